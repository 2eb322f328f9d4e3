// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jingle-go/nat"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serversTimeout time.Duration

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the STUN servers a resolution would probe",
		Args:  cobra.NoArgs,
		RunE:  runServers,
	}

	cmd.Flags().StringVar(&serversFile, "servers-file", "", "YAML STUN server list")
	cmd.Flags().StringVar(&dnsDomain, "dns-domain", "", "list the STUN servers advertised by this domain")
	cmd.Flags().StringVar(&nameserver, "nameserver", "", "DNS server host:port (defaults to the system resolver)")
	cmd.Flags().DurationVar(&serversTimeout, "timeout", 5*time.Second, "give up after this long")

	return cmd
}

func runServers(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, serversTimeout)
	defer cancelTimeout()

	var source nat.ServerSource = nat.DefaultServerSource()
	if serversFile != "" {
		source = nat.FileServerSource(serversFile)
	}

	servers, err := source.LoadSTUNServers(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configured:")
	for _, s := range servers {
		fmt.Fprintf(out, "  %s\n", s)
	}

	if dnsDomain == "" {
		return nil
	}

	dir, err := nat.NewDNSDirectory(&nat.DNSDirectoryConfig{
		Domain:        dnsDomain,
		Nameserver:    nameserver,
		LoggerFactory: newLoggerFactory(log.Logger),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Advertised by %s:\n", dnsDomain)
	advertised, err := dir.LookupSTUNServers(ctx)
	if err != nil {
		log.Warn().Err(err).Str("domain", dnsDomain).Msg("no STUN service advertised")
		fmt.Fprintln(out, "  (none)")

		return nil
	}
	for _, s := range advertised {
		fmt.Fprintf(out, "  %s\n", s)
	}

	return nil
}
