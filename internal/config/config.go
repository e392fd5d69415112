// Package config loads the runtime configuration.
//
// Precedence (lowest to highest): defaults < config file < CTXRT_* env vars.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config represents the ctxrt configuration.
type Config struct {
	Memory    MemoryConfig    `mapstructure:"memory" toml:"memory"`
	Attention AttentionConfig `mapstructure:"attention" toml:"attention"`
	Parallel  ParallelConfig  `mapstructure:"parallel" toml:"parallel"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging"`
	Store     StoreConfig     `mapstructure:"store" toml:"store"`
}

// MemoryConfig configures the region allocator and the attention collector.
type MemoryConfig struct {
	Ceiling          int     `mapstructure:"ceiling" toml:"ceiling"`                     // process-wide allocation ceiling in units
	RegionCapacity   int     `mapstructure:"region_capacity" toml:"region_capacity"`     // capacity of each context's region
	CollectThreshold float64 `mapstructure:"collect_threshold" toml:"collect_threshold"` // target used/capacity fraction
}

// AttentionConfig holds the per-switch decay factor for each tree relation.
type AttentionConfig struct {
	ParentChild        float64 `mapstructure:"parent_child" toml:"parent_child"`
	AncestorDescendant float64 `mapstructure:"ancestor_descendant" toml:"ancestor_descendant"`
	Sibling            float64 `mapstructure:"sibling" toml:"sibling"`
	Unrelated          float64 `mapstructure:"unrelated" toml:"unrelated"`
}

// ParallelConfig configures the parallel executor.
type ParallelConfig struct {
	MaxPaths int `mapstructure:"max_paths" toml:"max_paths"` // concurrently running paths per episode (0 = unlimited)
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"`
}

// StoreConfig configures the snapshot database.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if found := findProjectConfig(); found != "" {
		v.SetConfigFile(found)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", found, err)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper decodes and validates configuration from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CTXRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// findProjectConfig looks for ctxrt.toml in the working directory, then in ~/.ctxrt.
func findProjectConfig() string {
	candidates := []string{"ctxrt.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ctxrt", "ctxrt.toml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Validate checks ranges of every tunable.
func (c *Config) Validate() error {
	if c.Memory.Ceiling <= 0 {
		return fmt.Errorf("memory.ceiling must be positive, got %d", c.Memory.Ceiling)
	}
	if c.Memory.RegionCapacity <= 0 {
		return fmt.Errorf("memory.region_capacity must be positive, got %d", c.Memory.RegionCapacity)
	}
	if c.Memory.CollectThreshold < 0 || c.Memory.CollectThreshold > 1 {
		return fmt.Errorf("memory.collect_threshold must be within [0,1], got %g", c.Memory.CollectThreshold)
	}
	factors := map[string]float64{
		"attention.parent_child":        c.Attention.ParentChild,
		"attention.ancestor_descendant": c.Attention.AncestorDescendant,
		"attention.sibling":             c.Attention.Sibling,
		"attention.unrelated":           c.Attention.Unrelated,
	}
	for key, f := range factors {
		if f <= 0 || f > 1 {
			return fmt.Errorf("%s must be within (0,1], got %g", key, f)
		}
	}
	if c.Parallel.MaxPaths < 0 {
		return fmt.Errorf("parallel.max_paths must not be negative, got %d", c.Parallel.MaxPaths)
	}
	return nil
}

// StorePath returns the snapshot database path, defaulting to ~/.ctxrt/snapshots.db.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ctxrt", "snapshots.db")
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
