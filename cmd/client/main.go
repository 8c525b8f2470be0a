package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/config"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
)

var (
	configPath string
	serverURL  string
	logLevel   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "wirechat-client",
	Short: "Terminal client for a multi-channel chat server",
	Long: `wirechat-client lists the channels you have joined, shows the history of the
selected one and keeps a live connection to it. Type /help once connected.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./client.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "chat server base URL, overrides config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func run(cmd *cobra.Command, _ []string) error {
	bootLogger := wlog.New("info", os.Stderr)

	cfg, path, err := config.Load(bootLogger, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(config.Config{ServerURL: serverURL, LogLevel: logLevel})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger := wlog.New(cfg.LogLevel, os.Stderr)
	logger.Debug().Str("config", path).Msg("config loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, app.Options{
		In:    os.Stdin,
		Out:   os.Stdout,
		Color: !noColor,
	}, logger)
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("client exited with error: %w", err)
	}
	logger.Info().Msg("client stopped")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
