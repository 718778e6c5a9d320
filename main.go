package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-authgate/oauthcore/internal/bootstrap"
	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "oauthcore",
		Short:         "OAuth 2.0 authorization server (authorization code + PKCE, refresh rotation, revocation)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newClientCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintVersion()
		},
	})
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger, err := bootstrap.NewLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("starting oauthcore", zap.String("version", version.String()))
			return bootstrap.Run(cmd.Context(), cfg, logger)
		},
	}
}

// withApplication builds the application for a one-shot command and
// closes it afterwards. Nothing is served.
func withApplication(
	cmd *cobra.Command,
	fn func(ctx context.Context, app *bootstrap.Application) error,
) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	// Keep one-shot commands quiet; errors are returned to the caller.
	app, err := bootstrap.New(ctx, cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	return fn(ctx, app)
}
