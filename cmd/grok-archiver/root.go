package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/grokarchiver/archiver"
)

// errReported marks errors already logged; main only sets the exit code.
var errReported = errors.New("reported")

type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() []error {
	return []error{e.err, errReported}
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "grok-archiver",
		Short:         "Archive the images you generate on Grok, with their prompts",
		Version:       archiver.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is the normal case.
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiver(cmd, logOut, configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", archiver.DefaultConfigPath, "configuration file (JSON or YAML)")
	rootCmd.SetVersionTemplate("grok-archiver {{.Version}}\n")

	rootCmd.AddCommand(newStatsCommand(&configPath))
	return rootCmd
}

func runArchiver(cmd *cobra.Command, logOut io.Writer, configPath string) error {
	level := new(slog.LevelVar)
	logger := newLogger(logOut, level)

	cfg, err := archiver.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, archiver.ErrDefaultsWritten) {
			logger.Error("grok-archiver: no valid config found, a default one was written; review it before running again",
				"path", configPath, "error", err)
		} else {
			logger.Error("grok-archiver: config", "path", configPath, "error", err)
		}
		return reportedError{err}
	}
	level.Set(cfg.Level())
	if debugEnv() {
		level.Set(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := archiver.New(cfg, logger)
	if err := a.Run(ctx); err != nil {
		logger.Error("grok-archiver: fatal", "error", err)
		return reportedError{fmt.Errorf("run: %w", err)}
	}
	return nil
}
