// Package engine is the runtime-wide handle: one memory registry, one
// context tree, one executor and one interpreter per instance.
package engine

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/ctxrt/internal/ast"
	"github.com/rcliao/ctxrt/internal/config"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/interp"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/memory"
	"github.com/rcliao/ctxrt/internal/model"
	"github.com/rcliao/ctxrt/internal/parallel"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/value"
)

// Engine owns every registry of one runtime instance.
type Engine struct {
	cfg    config.Config
	runID  string
	out    io.Writer
	log    *zap.SugaredLogger
	mem    *memory.Manager
	scopes *scope.Manager
	exec   *parallel.Executor
	interp *interp.Interpreter

	mu      sync.Mutex
	program string
	result  value.Value
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput sends print output to w.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithLogger overrides the global logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// New builds an engine from cfg.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	e := &Engine{cfg: cfg, result: value.Void}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.log = logging.Named(e.log, "engine").With("run", e.runID)

	e.mem = memory.NewManager(cfg.Memory.Ceiling, e.log)
	scopes, err := scope.NewManager(e.mem, scope.Options{
		RegionCapacity: cfg.Memory.RegionCapacity,
		Decay:          cfg.Attention,
	}, e.log)
	if err != nil {
		return nil, err
	}
	e.scopes = scopes
	e.exec = parallel.NewExecutor(scopes, cfg.Parallel.MaxPaths, e.log)
	e.interp = interp.New(scopes, e.exec, interp.Options{
		Out:              e.out,
		CollectThreshold: cfg.Memory.CollectThreshold,
	}, e.log)
	return e, nil
}

// RunID identifies this instance in stored snapshots.
func (e *Engine) RunID() string { return e.runID }

// Scopes exposes the context tree.
func (e *Engine) Scopes() *scope.Manager { return e.scopes }

// Run evaluates program and remembers its result for later snapshots.
func (e *Engine) Run(ctx context.Context, program *ast.Node) (value.Value, error) {
	start := time.Now()
	v, err := e.interp.Run(ctx, program)
	e.log.Debugw("run finished", "elapsed", time.Since(start), "error", err)
	if err != nil {
		return v, err
	}
	e.mu.Lock()
	e.result = v
	e.mu.Unlock()
	return v, nil
}

// RunFile parses and runs the program at path.
func (e *Engine) RunFile(ctx context.Context, path string) (value.Value, error) {
	program, err := ast.ParseFile(path)
	if err != nil {
		return value.Void, err
	}
	e.mu.Lock()
	e.program = path
	e.mu.Unlock()
	return e.Run(ctx, program)
}

// Wait blocks until disowned parallel paths have drained.
func (e *Engine) Wait() { e.interp.Wait() }

// Collect waits for in-flight episodes and runs the collector at the
// configured threshold.
func (e *Engine) Collect() scope.CollectReport {
	return e.CollectAt(e.cfg.Memory.CollectThreshold)
}

// CollectAt is Collect with an explicit target fraction.
func (e *Engine) CollectAt(threshold float64) scope.CollectReport {
	e.interp.Wait()
	return e.scopes.Collect(threshold)
}

// Stats returns the region registry totals.
func (e *Engine) Stats() memory.Stats { return e.mem.Stats() }

// Snapshot captures the current context tree. It does not persist anything.
func (e *Engine) Snapshot(label string) model.Snapshot {
	e.mu.Lock()
	program, result := e.program, e.result
	e.mu.Unlock()

	st := e.mem.Stats()
	snap := model.Snapshot{
		RunID:     e.runID,
		Label:     label,
		Program:   program,
		CreatedAt: time.Now().UTC(),
		Memory: model.MemoryStats{
			Ceiling:   st.Ceiling,
			Allocated: st.Allocated,
			Used:      st.Used,
			Regions:   st.Regions,
		},
	}
	if !result.IsVoid() {
		snap.Result = result.String()
	}
	for _, c := range e.scopes.Contexts() {
		snap.Contexts = append(snap.Contexts, record(c))
	}
	return snap
}

func record(c *scope.Context) model.ContextRecord {
	r := c.Region()
	rec := model.ContextRecord{
		ID:         int(c.ID()),
		Parent:     int(c.Parent()),
		Name:       c.Name(),
		State:      c.State().String(),
		Attention:  c.Attention(),
		Active:     c.Active(),
		RegionID:   r.ID(),
		RegionKind: r.Kind().String(),
		Capacity:   r.Capacity(),
		Used:       r.Used(),
	}

	bindings := c.Bindings()
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := bindings[name]
		rec.Bindings = append(rec.Bindings, model.Binding{Name: name, Kind: v.Kind.String(), Value: v.String()})
	}

	for _, en := range r.Entries() {
		rec.Memory = append(rec.Memory, model.MemoryEntry{
			Seq:   en.Seq,
			Key:   en.Key,
			Kind:  en.Value.Kind.String(),
			Value: en.Value.String(),
		})
	}
	return rec
}
