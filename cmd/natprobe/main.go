// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

// natprobe discovers the addresses this host is reachable at.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jingle-go/nat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	logLevel    string
	metricsAddr string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "natprobe",
		Short: "natprobe - discover public transport addresses",
		Long: `natprobe finds the addresses peers can use to reach this host.

Examples:
  # Ask the built-in STUN servers for the public address
  natprobe resolve

  # Gather ICE candidates through a STUN and a TURN server
  natprobe resolve --strategy ice --uri stun:stun.l.google.com:19302 \
    --uri turn:user:pass@turn.example.org:3478

  # List the STUN servers advertised by a domain
  natprobe servers --dns-domain example.org

  # Answer liveness probes, then test from another host
  natprobe echo serve --listen 0.0.0.0:4000
  natprobe echo test 198.51.100.7:4000`,
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			setupLogging()

			return serveMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newServersCmd())
	rootCmd.AddCommand(newEchoCmd())

	return rootCmd
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// serveMetrics exposes the resolver metrics when --metrics-addr is set.
func serveMetrics() error {
	if metricsAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", metricsAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
