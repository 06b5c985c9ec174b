package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brianly1003/filesensor/internal/app"
	"github.com/brianly1003/filesensor/internal/config"
)

// Log file rotation limits.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start monitoring the configured files",
	Long: `Start the filesensor daemon.

Every entry under "files" in the config becomes a sensor. When an MQTT
broker is configured, sensors are built once the broker connection is up
and stopped while it is down; cached states are replayed on reconnect.

Editing the config file reloads it without a restart.

Example:
  filesensor start
  filesensor start --config /etc/filesensor/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	log.Info().
		Str("version", version).
		Bool("enabled", cfg.Enabled).
		Int("files", len(cfg.Files)).
		Str("broker", cfg.MQTT.Broker).
		Msg("starting filesensor")

	application, err := app.New(loader, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("filesensor stopped")
	return nil
}

// setupLogging configures the global zerolog logger. The returned func
// closes the log file, if any.
func setupLogging(cfg config.LoggingConfig) func() {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	closer := func() {}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		// The file always gets JSON, whatever the console format.
		out = zerolog.MultiLevelWriter(out, file)
		closer = func() { _ = file.Close() }
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}
