package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/app"
	"github.com/JakeFAU/erasure/internal/config"
	"github.com/JakeFAU/erasure/internal/logging"
	"github.com/JakeFAU/erasure/internal/telemetry"
)

type appKeyType string

const appKey appKeyType = "app"

// services is what PersistentPreRunE leaves in the command context.
type services struct {
	cfg    config.Config
	app    *app.App
	tracer *sdktrace.TracerProvider
}

// newApp is the application factory. Tests replace it to inject backends.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "erasure",
		Short: "Send personal-data deletion requests and track their confirmations.",
		Long: `erasure reads a CSV of (website, user) rows, finds each site's privacy
contact, emails a deletion request, and watches the inbox for the
confirmation. Progress is checkpointed in a ledger so reruns skip finished
work and resume pending confirmations without sending twice.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			rt := &services{cfg: cfg}
			if cfg.Tracing.Enabled {
				rt.tracer, err = telemetry.InitTracerProvider(cmd.Context(), cfg.Tracing.ServiceName,
					sdktrace.WithSpanProcessor(telemetry.NewSpanLogger(logger.Named("trace"))))
				if err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
			}
			rt.app, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(appKey).(*services)
			if !ok || rt == nil {
				return
			}
			if rt.tracer != nil {
				if err := rt.tracer.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					rt.app.Logger().Warn("tracer shutdown failed", zap.Error(err))
				}
			}
			rt.app.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newRunCmd(), newCrawlCmd(), newStatusCmd(), newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*services, error) {
	rt, ok := ctx.Value(appKey).(*services)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}
