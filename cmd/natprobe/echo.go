// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jingle-go/nat"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	echoServeAddr string
	echoProbeAddr string
	echoTimeout   time.Duration
	echoCount     int
)

var errEchoFailed = errors.New("no echo reply")

func newEchoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Answer or send candidate liveness probes",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer liveness probes until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runEchoServe,
	}
	serveCmd.Flags().StringVar(&echoServeAddr, "listen", "0.0.0.0:4000", "UDP address to answer on")

	testCmd := &cobra.Command{
		Use:   "test host:port",
		Short: "Probe a remote echo",
		Args:  cobra.ExactArgs(1),
		RunE:  runEchoTest,
	}
	testCmd.Flags().StringVar(&echoProbeAddr, "listen", "0.0.0.0:0", "UDP address to probe from")
	testCmd.Flags().DurationVar(&echoTimeout, "timeout", 2*time.Second, "time to wait for each reply")
	testCmd.Flags().IntVarP(&echoCount, "count", "c", 3, "number of probes")

	cmd.AddCommand(serveCmd, testCmd)

	return cmd
}

func listenEcho(addr string) (*nat.CandidateEcho, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	return nat.NewCandidateEcho(laddr, &nat.EchoConfig{LoggerFactory: newLoggerFactory(log.Logger)})
}

func runEchoServe(*cobra.Command, []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	echo, err := listenEcho(echoServeAddr)
	if err != nil {
		return err
	}
	defer echo.Close() //nolint:errcheck

	log.Info().Stringer("addr", echo.LocalAddr()).Msg("answering liveness probes")
	<-ctx.Done()

	return nil
}

func runEchoTest(cmd *cobra.Command, args []string) error {
	raddr, err := net.ResolveUDPAddr("udp", args[0])
	if err != nil {
		return err
	}

	echo, err := listenEcho(echoProbeAddr)
	if err != nil {
		return err
	}
	defer echo.Close() //nolint:errcheck

	ok := 0
	for i := range max(echoCount, 1) {
		start := time.Now()
		if echo.Test(raddr.IP, raddr.Port, echoTimeout) {
			ok++
			fmt.Fprintf(cmd.OutOrStdout(), "probe %d: reply from %s in %s\n", i+1, raddr, time.Since(start).Round(time.Microsecond))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "probe %d: no reply from %s\n", i+1, raddr)
		}
	}

	if ok == 0 {
		return fmt.Errorf("%w: %s", errEchoFailed, raddr)
	}

	return nil
}
