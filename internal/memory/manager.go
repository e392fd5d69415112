// Package memory owns all runtime storage as independent regions, each bound
// one-to-one to a context, and reclaims them by attention score.
package memory

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/value"
)

// Manager is the region registry. Structural operations (allocate,
// deallocate, collect) serialise on mu; key/value access locks only the
// touched region.
type Manager struct {
	mu        sync.Mutex
	regions   map[string]*Region
	ceiling   int
	allocated int
	nextSeq   uint64

	writes atomic.Uint64
	log    *zap.SugaredLogger
}

// Stats summarises the registry.
type Stats struct {
	Regions   int `json:"regions"`
	Allocated int `json:"allocated"`
	Used      int `json:"used"`
	Ceiling   int `json:"ceiling"`
}

// CollectResult reports what a collection pass did. Satisfied is false when
// the target could not be reached without touching protected regions.
type CollectResult struct {
	Threshold     float64   `json:"threshold"`
	TotalCapacity int       `json:"total_capacity"`
	Target        float64   `json:"target"`
	UsedBefore    int       `json:"used_before"`
	UsedAfter     int       `json:"used_after"`
	Freed         []*Region `json:"-"`
	Satisfied     bool      `json:"satisfied"`
}

// NewManager creates a registry with the given process-wide ceiling.
func NewManager(ceiling int, log *zap.SugaredLogger) *Manager {
	return &Manager{
		regions: make(map[string]*Region),
		ceiling: ceiling,
		log:     logging.Named(log, "memory"),
	}
}

// Ceiling returns the allocation ceiling.
func (m *Manager) Ceiling() int { return m.ceiling }

// Allocate creates a region for owner. The sum of live capacities may not
// exceed the ceiling.
func (m *Manager) Allocate(capacity int, kind Kind, owner int) (*Region, error) {
	if capacity <= 0 {
		return nil, errors.AssertionFailedf("region capacity must be positive, got %d", capacity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocated+capacity > m.ceiling {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrOutOfBudget, "allocate %d units (allocated %d of %d)", capacity, m.allocated, m.ceiling),
			"raise memory.ceiling or run the collector")
	}

	m.nextSeq++
	r := &Region{
		id:       ulid.Make().String(),
		kind:     kind,
		capacity: capacity,
		owner:    owner,
		seq:      m.nextSeq,
		entries:  make(map[string]Entry),
	}
	r.setAttention(1.0)
	m.regions[r.id] = r
	m.allocated += capacity

	m.log.Debugw("allocate", "region", r.id, "kind", kind.String(), "capacity", capacity, "owner", owner)
	return r, nil
}

// Store writes key in r. A full region is an error; nothing is evicted.
func (m *Manager) Store(r *Region, key string, v value.Value) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed {
		return Entry{}, errors.Wrapf(errors.ErrRegionReleased, "store %q", key)
	}

	size := v.Size()
	used := r.used + size
	if old, ok := r.entries[key]; ok {
		used -= old.Value.Size()
	}
	if used > r.capacity {
		return Entry{}, errors.Wrapf(errors.ErrRegionFull, "store %q needs %d units, region %s has %d of %d used",
			key, size, r.id, r.used, r.capacity)
	}

	e := Entry{Key: key, Value: v, Seq: m.writes.Add(1)}
	r.entries[key] = e
	r.used = used
	return e, nil
}

// Retrieve reads key from r.
func (m *Manager) Retrieve(r *Region, key string) (value.Value, error) {
	e, err := m.Lookup(r, key)
	if err != nil {
		return value.Void, err
	}
	return e.Value, nil
}

// Lookup is Retrieve returning the full entry.
func (m *Manager) Lookup(r *Region, key string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed {
		return Entry{}, errors.Wrapf(errors.ErrKeyNotFound, "%q (region released)", key)
	}
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, errors.Wrapf(errors.ErrKeyNotFound, "%q", key)
	}
	return e, nil
}

// Evict removes key from r, releasing its units.
func (m *Manager) Evict(r *Region, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || r.freed {
		return errors.Wrapf(errors.ErrKeyNotFound, "evict %q", key)
	}
	delete(r.entries, key)
	r.used -= e.Value.Size()
	return nil
}

// Deallocate releases r immediately. Releasing an already-freed region is a no-op.
func (m *Manager) Deallocate(r *Region) {
	if r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deallocateLocked(r)
}

func (m *Manager) deallocateLocked(r *Region) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return false
	}
	r.freed = true
	r.entries = nil
	r.used = 0
	delete(m.regions, r.id)
	m.allocated -= r.capacity
	m.log.Debugw("deallocate", "region", r.id, "owner", r.owner)
	return true
}

// SetAttention refreshes r's score after its owning context's score changed.
func (m *Manager) SetAttention(r *Region, score float64) {
	r.setAttention(score)
}

// Pin marks r as backing a running path; pinned regions are never collected.
func (m *Manager) Pin(r *Region) { r.pins.Add(1) }

// Unpin undoes Pin.
func (m *Manager) Unpin(r *Region) { r.pins.Add(-1) }

// Collect frees the lowest-attention regions until used units fall to
// threshold × total live capacity. Pinned regions and regions for which
// protected returns true are skipped. Collect never fails: when no further
// region is eligible it stops and reports Satisfied=false.
func (m *Manager) Collect(threshold float64, protected func(*Region) bool) CollectResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make([]*Region, 0, len(m.regions))
	res := CollectResult{Threshold: threshold}
	for _, r := range m.regions {
		live = append(live, r)
		res.TotalCapacity += r.capacity
		res.UsedBefore += r.Used()
	}
	res.Target = threshold * float64(res.TotalCapacity)

	// Highest attention first; among equals the newest first, so the tail
	// holds the stalest regions.
	sort.Slice(live, func(i, j int) bool {
		ai, aj := live[i].Attention(), live[j].Attention()
		if ai != aj {
			return ai > aj
		}
		return live[i].seq > live[j].seq
	})

	used := res.UsedBefore
	for i := len(live) - 1; i >= 0 && float64(used) > res.Target; i-- {
		r := live[i]
		if r.pins.Load() > 0 || (protected != nil && protected(r)) {
			continue
		}
		freedUnits := r.Used()
		if m.deallocateLocked(r) {
			used -= freedUnits
			res.Freed = append(res.Freed, r)
		}
	}

	res.UsedAfter = used
	res.Satisfied = float64(used) <= res.Target
	m.log.Debugw("collect", "threshold", threshold, "freed", len(res.Freed),
		"used_before", res.UsedBefore, "used_after", res.UsedAfter, "satisfied", res.Satisfied)
	return res
}

// Region looks up a live region by id.
func (m *Manager) Region(id string) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	return r, ok
}

// Stats returns registry totals.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Regions: len(m.regions), Allocated: m.allocated, Ceiling: m.ceiling}
	for _, r := range m.regions {
		st.Used += r.Used()
	}
	return st
}
