package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-orchestrator/internal/runtime"
	"github.com/tjfontaine/polyglot-orchestrator/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			shutdownTracer, err := telemetry.InitTracer(a.cfg.Telemetry, logger)
			if err != nil {
				return fmt.Errorf("initialize tracer: %w", err)
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
				}
			}()

			rt, err := runtime.New(ctx, runtime.WithConfig(a.cfg), runtime.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create orchestrator: %w", err)
			}
			if err := rt.Start(ctx); err != nil {
				rt.Shutdown(context.Background())
				return fmt.Errorf("start orchestrator: %w", err)
			}
			logger.Info("orchestrator started", slog.String("addr", rt.Addr()))

			<-ctx.Done()
			logger.Info("shutdown signal received, stopping orchestrator")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return rt.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
