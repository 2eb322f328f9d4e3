// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/jingle-go/nat"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errUnknownStrategy = errors.New("unknown resolver strategy")

var (
	strategy       string
	serverFlags    []string
	serversFile    string
	uriFlags       []string
	typeFlags      []string
	fixedAddress   string
	fixedPort      int
	dnsDomain      string
	nameserver     string
	enableIPv6     bool
	includeLoop    bool
	resolveTimeout time.Duration
	repeat         int
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the candidates of this host",
		Long: `Resolve runs one resolver and prints the candidates it found, most
preferred first.

Strategies:
  direct  addresses of the local interfaces
  stun    public addresses learned from STUN servers (default)
  ice     host, server reflexive and relayed candidates from --uri
  fixed   the address given with --address and --port`,
		Args: cobra.NoArgs,
		RunE: runResolve,
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "stun", "direct, stun, ice or fixed")
	cmd.Flags().StringSliceVar(&serverFlags, "server", nil, "STUN server host[:port], repeatable")
	cmd.Flags().StringVar(&serversFile, "servers-file", "", "YAML STUN server list")
	cmd.Flags().StringSliceVar(&uriFlags, "uri", nil, "STUN or TURN URI for the ice strategy, repeatable")
	cmd.Flags().StringSliceVar(&typeFlags, "types", nil, "candidate types the ice strategy gathers: host, srflx, relay")
	cmd.Flags().StringVar(&fixedAddress, "address", "", "address offered by the fixed strategy")
	cmd.Flags().IntVar(&fixedPort, "port", 0, "port offered by the fixed strategy")
	cmd.Flags().StringVar(&dnsDomain, "dns-domain", "", "also use the STUN servers advertised by this domain")
	cmd.Flags().StringVar(&nameserver, "nameserver", "", "DNS server host:port (defaults to the system resolver)")
	cmd.Flags().BoolVar(&enableIPv6, "ipv6", false, "also gather IPv6 candidates")
	cmd.Flags().BoolVar(&includeLoop, "loopback", false, "include loopback addresses")
	cmd.Flags().DurationVar(&resolveTimeout, "timeout", 15*time.Second, "give up after this long")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of resolutions to run")

	return cmd
}

func runResolve(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, resolveTimeout)
	defer cancelTimeout()

	config, err := resolverConfig()
	if err != nil {
		return err
	}

	resolver, err := newResolver(config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resolver.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close resolver")
		}
	}()

	resolver.AddListener(&nat.ResolverListenerFuncs{
		OnCandidateAdded: func(c *nat.Candidate) {
			log.Debug().Stringer("candidate", c).Msg("candidate added")
		},
	})

	if err = resolver.Initialize(ctx); err != nil {
		return err
	}

	for i := range max(repeat, 1) {
		start := time.Now()
		if err = nat.ResolveAndWait(ctx, resolver); err != nil {
			return fmt.Errorf("resolution %d: %w", i+1, err)
		}
		log.Info().
			Int("resolution", i+1).
			Int("candidates", resolver.CandidateCount()).
			Dur("took", time.Since(start)).
			Msg("resolved")
	}

	printCandidates(cmd.OutOrStdout(), resolver.Candidates())

	return nil
}

func resolverConfig() (*nat.ResolverConfig, error) {
	config := &nat.ResolverConfig{
		NetworkTypes:    []nat.NetworkType{nat.NetworkTypeUDP4},
		IncludeLoopback: includeLoop,
		LoggerFactory:   newLoggerFactory(log.Logger),
	}
	if enableIPv6 {
		config.NetworkTypes = append(config.NetworkTypes, nat.NetworkTypeUDP6)
	}

	for _, s := range serverFlags {
		server, err := parseServer(s)
		if err != nil {
			return nil, err
		}
		config.Servers = append(config.Servers, server)
	}
	if serversFile != "" {
		config.ServerSource = nat.FileServerSource(serversFile)
	}

	for _, raw := range uriFlags {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid URI %q: %w", raw, err)
		}
		config.URIs = append(config.URIs, uri)
	}

	for _, raw := range typeFlags {
		t, err := nat.ParseCandidateType(raw)
		if err != nil {
			return nil, err
		}
		config.CandidateTypes = append(config.CandidateTypes, t)
	}

	if dnsDomain != "" {
		dir, err := nat.NewDNSDirectory(&nat.DNSDirectoryConfig{
			Domain:        dnsDomain,
			Nameserver:    nameserver,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		config.Directory = dir
	}

	return config, nil
}

func newResolver(config *nat.ResolverConfig) (nat.Resolver, error) {
	switch strategy {
	case "direct":
		return nat.NewDirectResolver(config)
	case "stun":
		return nat.NewSTUNResolver(config)
	case "ice":
		return nat.NewICEResolver(config)
	case "fixed":
		return nat.NewFixedResolver(fixedAddress, fixedPort, config)
	default:
		return nil, fmt.Errorf("%w: strategy %q", errUnknownStrategy, strategy)
	}
}

// parseServer accepts host or host:port.
func parseServer(s string) (nat.STUNServer, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nat.STUNServer{Host: s, Port: nat.DefaultSTUNPort}, nil //nolint:nilerr
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nat.STUNServer{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}

	return nat.STUNServer{Host: host, Port: port}, nil
}

func printCandidates(w io.Writer, candidates []*nat.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No candidate found")

		return
	}

	fmt.Fprintf(w, "%-6s %-40s %-16s %-11s %s\n", "TYPE", "ADDRESS", "LOCAL", "PRIORITY", "PREFERENCE")
	for _, c := range nat.PrioritizeCandidates(candidates) {
		addr := net.JoinHostPort(c.Address(), strconv.Itoa(c.Port()))
		fmt.Fprintf(w, "%-6s %-40s %-16s %-11d %.6f\n", c.Type(), addr, c.LocalIP(), c.Priority(), c.Preference())
	}
}
