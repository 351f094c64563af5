package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lirlia/lsmkv/internal/cli"
	"github.com/lirlia/lsmkv/pkg/config"
	"github.com/lirlia/lsmkv/pkg/lsmkv"
)

var (
	configPath string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "lsmkv",
	Short: "Interactive shell for the lsmkv storage engine",
	Long: `lsmkv opens an embedded LSM-tree key-value store and starts an
interactive shell (set/get/del/scan/info/flush/compact) over it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Engine.DataDir = dataDir
		}

		absDataDir, err := filepath.Abs(cfg.Engine.DataDir)
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}

		logger := newLogger(cfg.Log)
		slog.SetDefault(logger)

		opts := lsmkv.DefaultOptions(absDataDir)
		opts.MemTableFlushThresholdBytes = cfg.Engine.MemtableFlushThresholdBytes
		opts.BloomFalsePositiveRate = cfg.Engine.BloomFalsePositiveRate
		opts.BloomExpectedEntriesPerSSTable = cfg.Engine.BloomExpectedEntriesPerSSTable
		opts.CompactionTierSizeRatio = cfg.Engine.CompactionTierSizeRatio
		opts.CompactionFilesPerTier = cfg.Engine.CompactionFilesPerTier
		opts.SSTableIndexStride = cfg.Engine.SSTableIndexStride
		opts.SyncOnWrite = cfg.Engine.SyncOnWrite
		opts.CompactionInterval = cfg.Engine.CompactionInterval
		opts.TTLSweepInterval = cfg.Engine.TTLSweepInterval
		opts.Logger = logger

		fmt.Printf("lsmkv storage engine\n")
		fmt.Printf("Data directory: %s\n\n", absDataDir)

		shell, err := cli.NewCLI(opts)
		if err != nil {
			return err
		}
		return shell.Run()
	},
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (yaml)")
	rootCmd.Flags().StringVarP(&dataDir, "data", "d", "", "Data directory (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
