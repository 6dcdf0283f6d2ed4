package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Diegomcha/netquery/internal/config"
	"github.com/Diegomcha/netquery/internal/version"
)

var (
	configPath string
	debug      bool

	cfg      *config.Config
	logger   *slog.Logger
	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "netquery",
		Short: "Run commands against many network devices at once",
		Long: `netquery runs a batch of commands over SSH against the devices of one or
more inventory files, shows per-device results as they arrive and saves
the result table for download or later classification.`,
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// setup loads the configuration and installs the process logger
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadWithLocalFallback(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if debug {
		level = slog.LevelDebug
	}
	logger, closeLog = config.SetupLogger(cfg.Log.File, level)
	slog.SetDefault(logger)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
