package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/config"
)

var (
	configPath string
	verbose    bool
	quiet      bool

	cfg    *config.Config
	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "hoard",
	Short: "Hoard - recursive document digest pipeline",
	Long: `Hoard walks document collections, looks inside archives, mailboxes and
emails, and digests every file it finds: hashes, type, text and metadata.

Work is spread over durable queues so any number of workers can share it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default hoard.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(collectionCmd)
	rootCmd.AddCommand(walkCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(digestQueueCmd)
	rootCmd.AddCommand(retryBrokenCmd)
	rootCmd.AddCommand(restartJobsCmd)
	rootCmd.AddCommand(walkOCRCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and installs the logger.
func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = c

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
