package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/benvon/wellness-tracker/internal/config"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
	logJSON    bool
}

// NewRootCmd creates the healthctl command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "healthctl",
		Short:         "Track daily wellness records",
		Long:          "Sign in, record steps, heart rate, sleep, water and calories, and watch your records update live.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.ConfigPathEnv), "path to a YAML config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		newLoginCmd(opts),
		newSignupCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newResetCmd(opts),
		newRecordsCmd(opts),
		newProfileCmd(opts),
		newBackendCmd(opts),
	)
	return root
}

// appBuilder constructs the App a command runs against
type appBuilder func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error)

// runWithApp loads configuration, builds the full App and runs fn against it.
// Errors from fn are reported to Sentry when it is configured.
func runWithApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *App) error) error {
	return run(cmd, opts, NewApp, fn)
}

// runWithRecovery is runWithApp for commands that only need the reset flow
func runWithRecovery(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *App) error) error {
	return run(cmd, opts, NewRecoveryApp, fn)
}

func run(cmd *cobra.Command, opts *rootOptions, build appBuilder, fn func(ctx context.Context, app *App) error) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		cfg.DebugMode = true
	}
	if opts.logJSON {
		cfg.LogJSON = true
	}

	log, err := logger.New(cfg.LogJSON, cfg.DebugMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	flush, err := telemetry.InitSentry(cfg.SentryDSN, cfg.Environment, Version)
	if err != nil {
		log.Warn("sentry_init_failed", zap.Error(err))
	}
	defer flush()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"command": cmd.CommandPath()})
		return err
	}
	defer app.Close()

	if err := fn(ctx, app); err != nil {
		telemetry.CaptureError(err, map[string]string{"command": cmd.CommandPath()})
		return err
	}
	return nil
}

func prompter(cmd *cobra.Command) *Prompter {
	return NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
