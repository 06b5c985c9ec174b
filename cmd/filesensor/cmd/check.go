package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/brianly1003/filesensor/internal/classifier"
	"github.com/brianly1003/filesensor/internal/config"
	"github.com/brianly1003/filesensor/internal/monitor"
)

var (
	checkFile string
	checkOn   string
	checkOff  string
)

// checkCmd classifies a file once, without watching it.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Classify a file's last line once",
	Long: `Read the last line of a file and print whether it classifies as ON,
OFF or NONE. Useful for testing patterns before adding them to the config.

Examples:
  filesensor check --file /var/log/backup.log --on 'status=1$' --off 'status=0$'`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFile, "file", "", "file to read (required)")
	checkCmd.Flags().StringVar(&checkOn, "on", "", "pattern for the ON state (required)")
	checkCmd.Flags().StringVar(&checkOff, "off", "", "pattern for the OFF state (required)")
	_ = checkCmd.MarkFlagRequired("file")
	_ = checkCmd.MarkFlagRequired("on")
	_ = checkCmd.MarkFlagRequired("off")
}

func runCheck(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))

	path, err := filepath.Abs(checkFile)
	if err != nil {
		return err
	}

	spec, err := monitor.NewSpec(monitor.Definition{
		Key:        "check",
		Path:       path,
		OnPattern:  checkOn,
		OffPattern: checkOff,
	})
	if err != nil {
		return err
	}

	line, err := monitor.ReadLastLine(spec.Path, config.DefaultMaxLineBytes)
	if err != nil {
		logger.Error("Could not read file", "file", spec.Path, "error", err)
		return err
	}
	logger.Debug("Read last line", "file", spec.Path, "line", line)

	result, err := classifier.Classify(line, spec.On, spec.Off)
	if err != nil {
		return err
	}

	logger.Info("Classified", "file", spec.Path, "result", result.String())
	fmt.Fprintln(cmd.OutOrStdout(), result.String())
	return nil
}
