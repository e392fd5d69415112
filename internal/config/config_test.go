package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1<<20, cfg.Memory.Ceiling)
	assert.Equal(t, 4096, cfg.Memory.RegionCapacity)
	assert.InDelta(t, 0.5, cfg.Memory.CollectThreshold, 1e-9)
	assert.InDelta(t, 0.98, cfg.Attention.ParentChild, 1e-9)
	assert.InDelta(t, 0.97, cfg.Attention.AncestorDescendant, 1e-9)
	assert.InDelta(t, 0.96, cfg.Attention.Sibling, 1e-9)
	assert.InDelta(t, 0.95, cfg.Attention.Unrelated, 1e-9)
	assert.Equal(t, 4, cfg.Parallel.MaxPaths)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctxrt.toml")
	content := `
[memory]
ceiling = 2048
collect_threshold = 0.25

[attention]
sibling = 0.5

[parallel]
max_paths = 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Memory.Ceiling)
	assert.Equal(t, 4096, cfg.Memory.RegionCapacity, "unset keys keep defaults")
	assert.InDelta(t, 0.25, cfg.Memory.CollectThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Attention.Sibling, 1e-9)
	assert.Equal(t, 0, cfg.Parallel.MaxPaths)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CTXRT_MEMORY_CEILING", "777")
	path := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 777, cfg.Memory.Ceiling)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ceiling", func(c *Config) { c.Memory.Ceiling = 0 }},
		{"zero capacity", func(c *Config) { c.Memory.RegionCapacity = 0 }},
		{"threshold above one", func(c *Config) { c.Memory.CollectThreshold = 1.5 }},
		{"zero decay", func(c *Config) { c.Attention.Unrelated = 0 }},
		{"decay above one", func(c *Config) { c.Attention.ParentChild = 1.01 }},
		{"negative max paths", func(c *Config) { c.Parallel.MaxPaths = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEncode(t *testing.T) {
	cfg := Default()
	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	assert.Contains(t, buf.String(), "[memory]")
	assert.Contains(t, buf.String(), "parent_child = 0.98")
}

func TestStorePath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "snapshots.db", filepath.Base(cfg.StorePath()))
	cfg.Store.Path = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db", cfg.StorePath())
}
