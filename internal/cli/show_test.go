package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ctxrt/internal/model"
)

func TestContextTree(t *testing.T) {
	contexts := []model.ContextRecord{
		{ID: 0, Parent: -1, Name: "global", State: "live", Attention: 1, RegionKind: "durable", Capacity: 64},
		{ID: 1, Parent: 0, Name: "research", State: "dormant", Attention: 0.98, RegionKind: "semantic", Capacity: 64, Used: 9,
			Memory: []model.MemoryEntry{{Seq: 1, Key: "topic", Value: "attention"}}},
		{ID: 2, Parent: 1, State: "live", Attention: 1, Active: true, RegionKind: "transient", Capacity: 64},
		{ID: 3, Parent: 0, Name: "notes", State: "dormant", Attention: 0.95, RegionKind: "semantic", Capacity: 64},
	}

	root := contextTree(contexts, false)
	assert.Contains(t, root.Text, "#0 global")
	require.Len(t, root.Children, 2)
	assert.Contains(t, root.Children[0].Text, "research")
	assert.Contains(t, root.Children[0].Text, "attention=0.9800")
	assert.Contains(t, root.Children[1].Text, "notes")

	require.Len(t, root.Children[0].Children, 1)
	anon := root.Children[0].Children[0].Text
	assert.Contains(t, anon, "(anonymous)")
	assert.Contains(t, anon, "*", "active context is marked")

	withMemory := contextTree(contexts, true)
	require.Len(t, withMemory.Children[0].Children, 2)
	assert.Equal(t, "topic = attention", withMemory.Children[0].Children[0].Text)
}

func TestContextTreeEmpty(t *testing.T) {
	assert.Equal(t, "(empty)", contextTree(nil, false).Text)
}
