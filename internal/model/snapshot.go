// Package model defines the persisted runtime snapshot records.
package model

import "time"

// Snapshot is a point-in-time capture of one runtime's context tree.
type Snapshot struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Label     string          `json:"label,omitempty"`
	Program   string          `json:"program,omitempty"`
	Result    string          `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	Memory    MemoryStats     `json:"memory"`
	Contexts  []ContextRecord `json:"contexts,omitempty"`
}

// MemoryStats are the region registry totals at capture time.
type MemoryStats struct {
	Ceiling   int `json:"ceiling"`
	Allocated int `json:"allocated"`
	Used      int `json:"used"`
	Regions   int `json:"regions"`
}

// ContextRecord is one context of a snapshot. Parent is -1 for the root.
type ContextRecord struct {
	ID         int           `json:"id"`
	Parent     int           `json:"parent"`
	Name       string        `json:"name,omitempty"`
	State      string        `json:"state"`
	Attention  float64       `json:"attention"`
	Active     bool          `json:"active,omitempty"`
	RegionID   string        `json:"region_id"`
	RegionKind string        `json:"region_kind"`
	Capacity   int           `json:"capacity"`
	Used       int           `json:"used"`
	Bindings   []Binding     `json:"bindings,omitempty"`
	Memory     []MemoryEntry `json:"memory,omitempty"`
}

// Binding is one variable of a context's scope table, rendered as text.
type Binding struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// MemoryEntry is one semantic-memory entry, in write order.
type MemoryEntry struct {
	Seq   uint64 `json:"seq"`
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// ValidStates are the context states a record may carry.
var ValidStates = map[string]bool{
	"live":    true,
	"dormant": true,
}
