// Package scope owns the context tree: creation, named re-entry, merging,
// attention decay and the context half of collection.
//
// Contexts live in an arena indexed by ID; parent and child links are IDs.
// Structural operations (create, destroy, merge, decay, collect) take the
// manager's write lock. Identifier and memory lookups take the read lock to
// walk the ancestor chain and then lock only the touched context or region.
package scope

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rcliao/ctxrt/internal/config"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/memory"
	"github.com/rcliao/ctxrt/internal/value"
)

// RootName is the name of the root context.
const RootName = "global"

// Options configures a Manager.
type Options struct {
	RegionCapacity int
	Decay          config.AttentionConfig
}

// Manager is the context registry of one runtime instance.
type Manager struct {
	mu    sync.RWMutex
	arena []*Context
	root  ID

	mem     *memory.Manager
	opts    Options
	autoKey atomic.Uint64
	log     *zap.SugaredLogger
}

// CollectReport is a memory collection result plus the contexts it destroyed.
type CollectReport struct {
	memory.CollectResult
	Destroyed []ID `json:"destroyed"`
}

// NewManager creates a manager with a durable root context.
func NewManager(mem *memory.Manager, opts Options, log *zap.SugaredLogger) (*Manager, error) {
	m := &Manager{
		mem:  mem,
		opts: opts,
		log:  logging.Named(log, "scope"),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	root, err := m.createLocked(RootName, NoParent, memory.Durable, opts.RegionCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "create root context")
	}
	m.root = root.id
	return m, nil
}

// Memory returns the memory manager backing this tree.
func (m *Manager) Memory() *memory.Manager { return m.mem }

// Root returns the root context.
func (m *Manager) Root() *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena[m.root]
}

// Create attaches a new semantic context as the last child of parent (the
// root when parent is NoParent).
func (m *Manager) Create(name string, parent ID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(name, m.parentOrRoot(parent), memory.Semantic, m.opts.RegionCapacity)
}

// Fork is Create with a transient region, used for parallel path contexts.
func (m *Manager) Fork(name string, parent ID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(name, m.parentOrRoot(parent), memory.Transient, m.opts.RegionCapacity)
}

func (m *Manager) parentOrRoot(parent ID) ID {
	if parent == NoParent {
		return m.root
	}
	return parent
}

func (m *Manager) createLocked(name string, parent ID, kind memory.Kind, capacity int) (*Context, error) {
	var p *Context
	if parent != NoParent {
		p = m.getLocked(parent)
		if p == nil || p.State() == Destroyed {
			return nil, errors.Wrapf(errors.ErrInvalidParent, "create %q under context %d", name, parent)
		}
	}

	id := ID(len(m.arena))
	region, err := m.mem.Allocate(capacity, kind, int(id))
	if err != nil {
		return nil, errors.Wrapf(err, "create context %q", name)
	}

	c := &Context{
		id:     id,
		name:   name,
		parent: parent,
		region: region,
		vars:   make(map[string]value.Value),
	}
	c.setAttention(1.0)
	c.state.Store(int32(Live))
	m.arena = append(m.arena, c)
	if p != nil {
		p.children = append(p.children, id)
	}

	m.log.Debugw("create", "context", id, "name", name, "parent", parent, "kind", kind.String())
	return c, nil
}

func (m *Manager) getLocked(id ID) *Context {
	if id < 0 || int(id) >= len(m.arena) {
		return nil
	}
	return m.arena[id]
}

// Get returns the context with id, including destroyed ones.
func (m *Manager) Get(id ID) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.getLocked(id)
	return c, c != nil
}

// Children returns the ids of c's children that are not destroyed, in
// creation order.
func (m *Manager) Children(id ID) []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.getLocked(id)
	if c == nil {
		return nil
	}
	out := make([]ID, 0, len(c.children))
	for _, child := range c.children {
		if m.arena[child].State() != Destroyed {
			out = append(out, child)
		}
	}
	return out
}

// Contexts returns every context not yet destroyed, in creation order.
func (m *Manager) Contexts() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(m.arena))
	for _, c := range m.arena {
		if c.State() != Destroyed {
			out = append(out, c)
		}
	}
	return out
}

// FindByName searches breadth-first from the root; among equal depths the
// earlier-created context wins. Anonymous contexts never match.
func (m *Manager) FindByName(name string) (*Context, error) {
	if name == "" {
		return nil, errors.Wrap(errors.ErrContextNotFound, "anonymous contexts cannot be found by name")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	queue := []ID{m.root}
	for len(queue) > 0 {
		c := m.arena[queue[0]]
		queue = queue[1:]
		if c.State() == Destroyed {
			continue
		}
		if c.name == name {
			return c, nil
		}
		queue = append(queue, c.children...)
	}
	return nil, errors.Wrapf(errors.ErrContextNotFound, "%q", name)
}

// chain returns the context with id followed by its ancestors up to the root.
func (m *Manager) chain(id ID) []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Context
	for c := m.getLocked(id); c != nil; c = m.getLocked(c.parent) {
		out = append(out, c)
	}
	return out
}

// Merge creates a context whose bindings and semantic memory are the union of
// inputs, later inputs winning on collision. It is attached under the first
// input's parent and sized to hold every input's memory.
func (m *Manager) Merge(inputs []ID) (*Context, error) {
	if len(inputs) == 0 {
		return nil, errors.AssertionFailedf("merge of zero contexts")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	srcs := make([]*Context, 0, len(inputs))
	names := make([]string, 0, len(inputs))
	need := 0
	for _, id := range inputs {
		c := m.getLocked(id)
		if c == nil || c.State() == Destroyed {
			return nil, errors.Wrapf(errors.ErrContextNotFound, "merge input %d", id)
		}
		srcs = append(srcs, c)
		need += c.region.Used()
		if c.name != "" {
			names = append(names, c.name)
		}
	}

	parent := srcs[0].parent
	if parent == NoParent {
		parent = m.root
	}
	capacity := max(m.opts.RegionCapacity, need)
	merged, err := m.createLocked(strings.Join(names, "+"), parent, memory.Semantic, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "merge")
	}

	for _, src := range srcs {
		for k, v := range src.Bindings() {
			merged.vars[k] = v
		}
		for _, e := range src.region.Entries() {
			if _, err := m.mem.Store(merged.region, e.Key, e.Value); err != nil {
				return nil, errors.Wrapf(err, "merge memory of context %d", src.id)
			}
		}
	}

	m.log.Debugw("merge", "context", merged.id, "inputs", inputs)
	return merged, nil
}

// DecayAttention resets the active context to 1.0 and multiplies every other
// live context by the factor for its relation to active.
func (m *Manager) DecayAttention(active ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decayLocked(active)
}

func (m *Manager) decayLocked(active ID) {
	a := m.getLocked(active)
	if a == nil {
		return
	}
	ancestors := make(map[ID]bool)
	for p := m.getLocked(a.parent); p != nil; p = m.getLocked(p.parent) {
		ancestors[p.id] = true
	}

	for _, c := range m.arena {
		if c.State() == Destroyed {
			continue
		}
		score := 1.0
		if c.id != active {
			score = c.Attention() * m.factorLocked(c, a, ancestors)
		}
		c.setAttention(score)
		m.mem.SetAttention(c.region, score)
	}
}

func (m *Manager) factorLocked(c, a *Context, ancestors map[ID]bool) float64 {
	d := m.opts.Decay
	switch {
	case c.parent == a.id || a.parent == c.id:
		return d.ParentChild
	case ancestors[c.id] || m.descendsLocked(c, a.id):
		return d.AncestorDescendant
	case c.parent == a.parent:
		return d.Sibling
	}
	return d.Unrelated
}

func (m *Manager) descendsLocked(c *Context, ancestor ID) bool {
	for p := m.getLocked(c.parent); p != nil; p = m.getLocked(p.parent) {
		if p.id == ancestor {
			return true
		}
	}
	return false
}

// Release destroys c and its descendants. Contexts with an active thread
// survive, and so do their ancestors, which are left dormant instead.
func (m *Manager) Release(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.getLocked(id); c != nil && c.id != m.root {
		m.destroyLocked(c)
	}
}

// retire handles a context the thread just left: an anonymous leaf is
// destroyed, anything else goes dormant and stays reachable by name.
func (m *Manager) retire(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.getLocked(id)
	if c == nil || c.id == m.root || c.State() == Destroyed || c.Active() {
		return
	}
	if c.name == "" && !m.hasLiveChildLocked(c) {
		m.destroyLocked(c)
		return
	}
	c.state.Store(int32(Dormant))
}

func (m *Manager) hasLiveChildLocked(c *Context) bool {
	for _, child := range c.children {
		if m.arena[child].State() != Destroyed {
			return true
		}
	}
	return false
}

func (m *Manager) destroyLocked(c *Context) (destroyed []ID) {
	if c.State() == Destroyed {
		return nil
	}
	survivor := false
	for _, child := range c.children {
		cc := m.arena[child]
		destroyed = append(destroyed, m.destroyLocked(cc)...)
		if cc.State() != Destroyed {
			survivor = true
		}
	}
	if survivor || c.Active() {
		c.state.Store(int32(Dormant))
		return destroyed
	}

	c.state.Store(int32(Destroyed))
	c.children = nil
	c.varsMu.Lock()
	c.vars = nil
	c.varsMu.Unlock()
	m.mem.Deallocate(c.region)
	if p := m.getLocked(c.parent); p != nil {
		p.children = removeID(p.children, c.id)
	}
	m.log.Debugw("destroy", "context", c.id, "name", c.name)
	return append(destroyed, c.id)
}

func removeID(ids []ID, id ID) []ID {
	for i, x := range ids {
		if x == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// Collect runs the attention collector. The root, every context with an
// active thread and all of their ancestors are protected; contexts whose
// regions were freed are destroyed along with their descendants.
func (m *Manager) Collect(threshold float64) CollectReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	protected := map[int]bool{int(m.root): true}
	for _, c := range m.arena {
		if c.State() == Destroyed || !c.Active() {
			continue
		}
		for p := c; p != nil; p = m.getLocked(p.parent) {
			protected[int(p.id)] = true
		}
	}

	res := m.mem.Collect(threshold, func(r *memory.Region) bool {
		return protected[r.Owner()]
	})
	report := CollectReport{CollectResult: res}
	for _, r := range res.Freed {
		if c := m.getLocked(ID(r.Owner())); c != nil {
			report.Destroyed = append(report.Destroyed, m.destroyLocked(c)...)
		}
	}
	sort.Slice(report.Destroyed, func(i, j int) bool { return report.Destroyed[i] < report.Destroyed[j] })

	// Destroying an owner also frees its descendants' regions.
	report.UsedAfter = m.mem.Stats().Used
	report.Satisfied = float64(report.UsedAfter) <= report.Target

	m.log.Debugw("collect", "threshold", threshold, "destroyed", report.Destroyed, "satisfied", res.Satisfied)
	return report
}

// nextAutoKey returns the key used by an unkeyed remember.
func (m *Manager) nextAutoKey() string {
	return fmt.Sprintf("#%d", m.autoKey.Add(1))
}
