package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the file-level configuration for a store and its host process.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig mirrors the engine's tunables.
type EngineConfig struct {
	DataDir                        string        `yaml:"data_dir" mapstructure:"data_dir"`
	MemtableFlushThresholdBytes    int64         `yaml:"memtable_flush_threshold_bytes" mapstructure:"memtable_flush_threshold_bytes"`
	BloomFalsePositiveRate         float64       `yaml:"bloom_false_positive_rate" mapstructure:"bloom_false_positive_rate"`
	BloomExpectedEntriesPerSSTable uint64        `yaml:"bloom_expected_entries_per_sstable" mapstructure:"bloom_expected_entries_per_sstable"`
	CompactionTierSizeRatio        int64         `yaml:"compaction_tier_size_ratio" mapstructure:"compaction_tier_size_ratio"`
	CompactionFilesPerTier         int           `yaml:"compaction_files_per_tier" mapstructure:"compaction_files_per_tier"`
	SSTableIndexStride             int           `yaml:"sstable_index_stride" mapstructure:"sstable_index_stride"`
	SyncOnWrite                    bool          `yaml:"sync_on_write" mapstructure:"sync_on_write"`
	CompactionInterval             time.Duration `yaml:"compaction_interval" mapstructure:"compaction_interval"`
	TTLSweepInterval               time.Duration `yaml:"ttl_sweep_interval" mapstructure:"ttl_sweep_interval"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the defaults used when no file overrides them.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DataDir:                        "./data",
			MemtableFlushThresholdBytes:    4 * 1024 * 1024,
			BloomFalsePositiveRate:         0.01,
			BloomExpectedEntriesPerSSTable: 100_000,
			CompactionTierSizeRatio:        4,
			CompactionFilesPerTier:         4,
			SSTableIndexStride:             16,
			SyncOnWrite:                    true,
			CompactionInterval:             10 * time.Second,
			TTLSweepInterval:               30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configuration from configPath (or config.yaml in the
// working directory when empty), layered over the defaults. Automatic
// environment lookup with the LSMKV prefix is enabled, but no key replacer
// is set and the defaults are not registered with viper: only keys that the
// config file sets are looked up, under dotted names such as
// LSMKV_ENGINE.DATA_DIR, so LSMKV_ENGINE_DATA_DIR has no effect.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("LSMKV")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 設定ファイルが無ければデフォルトで動く
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func validateConfig(config *Config) error {
	e := &config.Engine
	if e.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if e.MemtableFlushThresholdBytes <= 0 {
		return fmt.Errorf("memtable_flush_threshold_bytes must be positive")
	}
	if e.BloomFalsePositiveRate <= 0 || e.BloomFalsePositiveRate >= 1 {
		return fmt.Errorf("bloom_false_positive_rate must be in (0, 1)")
	}
	if e.CompactionTierSizeRatio < 2 {
		return fmt.Errorf("compaction_tier_size_ratio must be at least 2")
	}
	if e.CompactionFilesPerTier < 2 {
		return fmt.Errorf("compaction_files_per_tier must be at least 2")
	}
	if e.SSTableIndexStride <= 0 {
		return fmt.Errorf("sstable_index_stride must be positive")
	}
	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.Log.Level)
	}
	return nil
}
