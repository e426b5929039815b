package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airfi/edgeship/internal/app"
	"github.com/airfi/edgeship/internal/connectivity"
	shiperrors "github.com/airfi/edgeship/internal/errors"
	"github.com/airfi/edgeship/internal/logging"
	"github.com/airfi/edgeship/internal/server"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	HTTPAddr     string
	OTLP         string
	AssumeOnline bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the producers and sync workers until interrupted",
		Long: `Run the agent: accept passenger events on the local HTTP endpoint, sample device
health, read GPS, and deliver pending records every sync interval while online.

Example:
  edgeship run --config /etc/edgeship/edgeship.yaml
  EDGESHIP_API_KEY=... edgeship run --data-dir /var/lib/edgeship`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "local HTTP listen address (empty keeps the configured one)")
	cmd.Flags().StringVar(&opts.OTLP, "otlp-endpoint", "", "OTLP/gRPC metrics endpoint")
	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "skip the connectivity probe and always sync")

	return cmd
}

func runAgent(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Addr = opts.HTTPAddr
	}
	if opts.OTLP != "" {
		cfg.Metrics.OTLPEndpoint = opts.OTLP
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	defer logger.Sync()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := server.SignalContext(parent)
	defer stop()

	var appOpts []app.Option
	if opts.AssumeOnline {
		appOpts = append(appOpts, app.WithMonitor(connectivity.NewStatic(true)))
	}

	a, err := app.New(ctx, cfg, logger, appOpts...)
	if err != nil {
		code := ExitFailure
		if shiperrors.IsFatal(err) {
			code = ExitCommandError
		}
		logger.Error("startup failed", zap.Error(err))
		return WrapExitError(code, "failed to start", err)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("agent stopped with error", zap.Error(err))
		return WrapExitError(ExitFailure, "agent error", err)
	}
	logger.Info("agent stopped")
	return nil
}
