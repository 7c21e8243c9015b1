// Package cmd defines the CLI commands for the notecrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/app"
	"github.com/JakeFAU/notecrawler/internal/config"
	"github.com/JakeFAU/notecrawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 15 * time.Second

// App is the surface the commands use, so tests can inject a fake.
type App interface {
	Crawl(ctx context.Context) (uuid.UUID, error)
	Serve(ctx context.Context) error
	ServeInBackground() func(context.Context)
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command. v receives defaults, environment,
// the optional config file and every bound flag. The returned function
// releases the App built for the command; it runs even when the command
// fails.
func newRootCmd(v *viper.Viper) (*cobra.Command, func() error) {
	var (
		cfgFile     string
		appInstance App
	)
	cmd := &cobra.Command{
		Use:   "notecrawler",
		Short: "Crawl notes, comments and creators from xiaohongshu.",
		Long: `notecrawler runs one crawl per invocation in search, detail or creator mode.
It bootstraps a browser session (optionally behind a proxy), pages through
results with bounded concurrency and writes every record to the configured
result sink.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			built, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = built
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newServeCmd())

	closeApp := func() error {
		if appInstance == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err := appInstance.Close(ctx)
		appInstance = nil
		_ = zap.L().Sync()
		return err
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd(config.New())
	err := root.ExecuteContext(ctx)
	stop()
	if cerr := closeApp(); cerr != nil {
		zap.L().Warn("application shutdown failed", zap.Error(cerr))
	}
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
