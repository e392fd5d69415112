package scope

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/rcliao/ctxrt/internal/memory"
	"github.com/rcliao/ctxrt/internal/value"
)

// ID indexes a context in the manager's arena.
type ID int

// NoParent asks Create to attach the new context under the root.
const NoParent ID = -1

// State is a context's lifecycle position.
type State int32

const (
	// Live contexts are attached and in use.
	Live State = iota
	// Dormant contexts were exited but stay reachable by name until collected.
	Dormant
	// Destroyed contexts have released their region.
	Destroyed
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Dormant:
		return "dormant"
	case Destroyed:
		return "destroyed"
	}
	return "unknown"
}

// Context is one scope/semantic unit: variable bindings plus a semantic
// memory region, arranged in a tree by parent id.
type Context struct {
	id     ID
	name   string
	parent ID
	region *memory.Region

	// children is guarded by Manager.mu.
	children []ID

	varsMu sync.RWMutex
	vars   map[string]value.Value

	attention atomic.Uint64 // float64 bits
	active    atomic.Int32  // threads currently positioned here
	state     atomic.Int32
}

func (c *Context) ID() ID                 { return c.id }
func (c *Context) Name() string           { return c.name }
func (c *Context) Parent() ID             { return c.parent }
func (c *Context) Region() *memory.Region { return c.region }
func (c *Context) State() State           { return State(c.state.Load()) }
func (c *Context) Active() bool           { return c.active.Load() > 0 }
func (c *Context) IsRoot() bool           { return c.parent == NoParent }

// Attention returns the context's current score in [0,1].
func (c *Context) Attention() float64 {
	return math.Float64frombits(c.attention.Load())
}

func (c *Context) setAttention(score float64) {
	c.attention.Store(math.Float64bits(score))
}

// Value returns a runtime reference to this context.
func (c *Context) Value() value.Value {
	return value.ContextOf(int(c.id), c.name)
}

// Bindings returns a copy of the context's scope table.
func (c *Context) Bindings() map[string]value.Value {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	out := make(map[string]value.Value, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

func (c *Context) lookup(name string) (value.Value, bool) {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

func (c *Context) bind(name string, v value.Value) {
	c.varsMu.Lock()
	c.vars[name] = v
	c.varsMu.Unlock()
}

func (c *Context) rebind(name string, v value.Value) bool {
	c.varsMu.Lock()
	defer c.varsMu.Unlock()
	if _, ok := c.vars[name]; !ok {
		return false
	}
	c.vars[name] = v
	return true
}
