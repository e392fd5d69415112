package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Memory defaults
	v.SetDefault("memory.ceiling", 1<<20)
	v.SetDefault("memory.region_capacity", 4096)
	v.SetDefault("memory.collect_threshold", 0.5)

	// Attention decay per context switch, closer relations decay slower
	v.SetDefault("attention.parent_child", 0.98)
	v.SetDefault("attention.ancestor_descendant", 0.97)
	v.SetDefault("attention.sibling", 0.96)
	v.SetDefault("attention.unrelated", 0.95)

	v.SetDefault("parallel.max_paths", 4)

	v.SetDefault("logging.json", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("store.path", "")
}
