package memory

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rcliao/ctxrt/internal/value"
)

// Kind classifies a region's expected lifetime.
type Kind int

const (
	Transient Kind = iota // stack-like, e.g. a parallel path's scratch context
	Durable               // heap-like, e.g. the root context
	Semantic              // a named context's semantic memory
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Durable:
		return "durable"
	case Semantic:
		return "semantic"
	}
	return "unknown"
}

// Entry is one stored value plus the manager-wide write sequence that stored it.
type Entry struct {
	Key   string
	Value value.Value
	Seq   uint64
}

// Region is the storage backing exactly one context.
type Region struct {
	id       string
	kind     Kind
	capacity int
	owner    int
	seq      uint64

	mu      sync.Mutex
	entries map[string]Entry
	used    int
	freed   bool

	attention atomic.Uint64 // float64 bits
	pins      atomic.Int32
}

func (r *Region) ID() string    { return r.id }
func (r *Region) Kind() Kind    { return r.kind }
func (r *Region) Capacity() int { return r.capacity }

// Owner is the id of the context this region backs.
func (r *Region) Owner() int { return r.owner }

// Used returns the units currently occupied.
func (r *Region) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Freed reports whether the region has been deallocated.
func (r *Region) Freed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freed
}

// Attention mirrors the owning context's attention score.
func (r *Region) Attention() float64 {
	return math.Float64frombits(r.attention.Load())
}

func (r *Region) setAttention(score float64) {
	r.attention.Store(math.Float64bits(score))
}

// Len returns the number of stored keys.
func (r *Region) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a copy of all entries ordered by write sequence.
func (r *Region) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Latest returns the most recently written entry.
func (r *Region) Latest() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best Entry
	found := false
	for _, e := range r.entries {
		if !found || e.Seq > best.Seq {
			best, found = e, true
		}
	}
	return best, found
}
