package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/simcore/internal/interfaces/http"
	"github.com/sawpanic/simcore/internal/interfaces/http/handlers"
)

type serveOptions struct {
	host string
	port int
}

func newServeCmd(g *globals) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run archive and metrics over HTTP (read-only)",
		Long: `Starts the read-only HTTP surface:
  GET /health      archive and breaker status, stage latencies
  GET /metrics     Prometheus exposition
  GET /runs        recent archived runs (?limit=N)
  GET /runs/{id}   one run with metrics and trades`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port (default from config)")
	return cmd
}

func runServe(ctx context.Context, g *globals, opts *serveOptions, out io.Writer) error {
	svc, err := buildServices(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	if !svc.durable {
		g.logger.Warn().Msg("No database configured, serving an empty in-memory archive")
	}

	scfg := http.DefaultServerConfig()
	scfg.Host, scfg.Port = g.cfg.HTTP.Host, g.cfg.HTTP.Port
	if opts.host != "" {
		scfg.Host = opts.host
	}
	if opts.port != 0 {
		scfg.Port = opts.port
	}

	server, err := http.NewServer(scfg, handlers.Deps{
		Runs:      svc.archive,
		Health:    svc.health,
		Breaker:   svc.archive,
		Telemetry: svc.telemetry,
		Version:   version,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	fmt.Fprintf(out, "Serving on http://%s (Ctrl+C to stop)\n", server.GetAddress())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
