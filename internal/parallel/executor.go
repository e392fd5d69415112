// Package parallel runs the named paths of a parallel construct, each in its
// own child context, and reduces their results with a selection strategy.
package parallel

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/value"
)

// Body is one path's closure. It runs with th positioned at the path's own
// context and should return promptly once ctx is cancelled.
type Body func(ctx context.Context, th *scope.Thread) (value.Value, error)

// Evaluator scores a successful result for the "best" strategy.
type Evaluator func(ctx context.Context, v value.Value) (float64, error)

// Path is a named path body. Declaration order is the slice order.
type Path struct {
	Name string
	Body Body
}

// Result is what one path recorded.
type Result struct {
	Path    string        `json:"path"`
	Value   value.Value   `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
	Context scope.ID      `json:"context"`
	Err     error         `json:"-"`

	index int
}

// Outcome is the reduced value of a completed execution and the context
// that survives it: the winner's, or the merge of every successful path's.
type Outcome struct {
	Value   value.Value
	Context scope.ID
}

// Execution is one fork/join episode.
type Execution struct {
	id        string
	paths     []Path
	strategy  Strategy
	evaluator Evaluator
	parent    scope.ID

	mu      sync.Mutex
	status  Status
	results []*Result
	done    chan struct{}
}

func (e *Execution) ID() string         { return e.id }
func (e *Execution) Strategy() Strategy { return e.strategy }

// Status returns the current state.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Results returns the recorded results in path declaration order. Results
// of disowned "fastest" paths are never recorded.
func (e *Execution) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, 0, len(e.results))
	for _, r := range e.results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Done is closed once every path has returned and every context not
// selected has been released.
func (e *Execution) Done() <-chan struct{} { return e.done }

func (e *Execution) transition(from, to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != from {
		return errors.Wrapf(errors.ErrInvalidState, "execution %s is %s, want %s", e.id, e.status, from)
	}
	e.status = to
	return nil
}

func (e *Execution) finish(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

func (e *Execution) record(r *Result) {
	e.mu.Lock()
	e.results[r.index] = r
	e.mu.Unlock()
}

// Executor forks paths into child contexts of one context tree.
type Executor struct {
	scopes   *scope.Manager
	maxPaths int
	log      *zap.SugaredLogger
}

// NewExecutor creates an executor. maxPaths caps concurrently running paths
// per execution; zero means unlimited.
func NewExecutor(scopes *scope.Manager, maxPaths int, log *zap.SugaredLogger) *Executor {
	return &Executor{
		scopes:   scopes,
		maxPaths: maxPaths,
		log:      logging.Named(log, "parallel"),
	}
}

// Submit validates paths and creates a pending execution whose path
// contexts will be children of parent.
func (x *Executor) Submit(parent scope.ID, paths []Path, strategy Strategy, eval Evaluator) (*Execution, error) {
	if len(paths) == 0 {
		return nil, errors.WithStack(errors.ErrNoPaths)
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p.Name] {
			return nil, errors.Wrapf(errors.ErrDuplicatePath, "%q", p.Name)
		}
		seen[p.Name] = true
	}
	if strategy == Best && eval == nil {
		return nil, errors.WithStack(errors.ErrMissingEvaluator)
	}

	return &Execution{
		id:        ulid.Make().String(),
		paths:     paths,
		strategy:  strategy,
		evaluator: eval,
		parent:    parent,
		status:    Pending,
		results:   make([]*Result, len(paths)),
		done:      make(chan struct{}),
	}, nil
}

// Run forks every path, waits for the strategy's completion condition and
// returns the reduced value. Paths never abort their siblings; only when
// every path fails does Run return an *errors.AllPathsFailedError.
func (x *Executor) Run(ctx context.Context, e *Execution) (Outcome, error) {
	if err := e.transition(Pending, Running); err != nil {
		return Outcome{}, err
	}
	log := x.log.With("execution", e.id, "strategy", e.strategy.String())

	forked := make([]scope.ID, 0, len(e.paths))
	for _, p := range e.paths {
		c, err := x.scopes.Fork(p.Name, e.parent)
		if err != nil {
			for _, id := range forked {
				x.scopes.Release(id)
			}
			e.finish(Failed)
			close(e.done)
			return Outcome{}, errors.Wrapf(err, "fork path %q", p.Name)
		}
		forked = append(forked, c.ID())
		log.Debugw("fork", "path", p.Name, "context", c.ID())
	}

	runCtx, cancel := context.WithCancel(ctx)
	results := make(chan *Result, len(e.paths))

	var g errgroup.Group
	if x.maxPaths > 0 {
		g.SetLimit(x.maxPaths)
	}
	go func() {
		for i := range e.paths {
			g.Go(func() error {
				// A failed path must not cancel its siblings.
				results <- x.runPath(runCtx, e.paths[i], i, forked[i])
				return nil
			})
		}
		_ = g.Wait()
	}()

	if e.strategy == Fastest {
		first := <-results
		cancel()
		e.record(first)
		go x.drain(e, results, len(e.paths)-1, log)
		return x.selectFastest(e, first, log)
	}

	defer cancel()
	all := make([]*Result, len(e.paths))
	for range e.paths {
		r := <-results
		e.record(r)
		all[r.index] = r
	}
	defer close(e.done)
	if e.strategy == Best {
		return x.selectBest(ctx, e, all, log)
	}
	return x.selectAll(e, all, log)
}

func (x *Executor) runPath(ctx context.Context, p Path, index int, id scope.ID) (res *Result) {
	res = &Result{Path: p.Name, Context: id, index: index}

	th := x.scopes.Attach(id)
	c := th.Active()
	mem := x.scopes.Memory()
	mem.Pin(c.Region())
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = errors.Newf("panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		mem.Unpin(c.Region())
		th.Detach()
		if res.Err != nil {
			res.Err = &errors.PathError{Path: p.Name, Err: res.Err}
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = errors.Wrap(err, "cancelled before start")
		return res
	}
	res.Value, res.Err = p.Body(ctx, th)
	return res
}

// drain waits for disowned paths and releases their contexts.
func (x *Executor) drain(e *Execution, results <-chan *Result, n int, log *zap.SugaredLogger) {
	defer close(e.done)
	for range n {
		r := <-results
		x.scopes.Release(r.Context)
		log.Debugw("release disowned path", "path", r.Path, "elapsed", r.Elapsed)
	}
}

func (x *Executor) selectFastest(e *Execution, first *Result, log *zap.SugaredLogger) (Outcome, error) {
	if first.Err != nil {
		x.scopes.Release(first.Context)
		e.finish(Failed)
		log.Debugw("fastest path failed", "path", first.Path, "error", first.Err)
		var pe *errors.PathError
		errors.As(first.Err, &pe)
		if len(e.paths) == 1 {
			return Outcome{}, &errors.AllPathsFailedError{Failures: []*errors.PathError{pe}}
		}
		return Outcome{}, pe
	}
	e.finish(Completed)
	log.Debugw("select", "winner", first.Path, "elapsed", first.Elapsed)
	return Outcome{Value: first.Value, Context: first.Context}, nil
}

func (x *Executor) selectAll(e *Execution, all []*Result, log *zap.SugaredLogger) (Outcome, error) {
	var (
		vals     []value.Value
		ctxs     []scope.ID
		failures []*errors.PathError
	)
	for _, r := range all {
		if r.Err != nil {
			failures = append(failures, asPathError(r))
			continue
		}
		vals = append(vals, r.Value)
		ctxs = append(ctxs, r.Context)
	}
	defer func() {
		for _, r := range all {
			x.scopes.Release(r.Context)
		}
	}()

	if len(vals) == 0 {
		e.finish(Failed)
		return Outcome{}, &errors.AllPathsFailedError{Failures: failures}
	}
	merged, err := x.scopes.Merge(ctxs)
	if err != nil {
		e.finish(Failed)
		return Outcome{}, errors.Wrap(err, "merge path contexts")
	}
	e.finish(Completed)
	log.Debugw("select", "merged", len(vals), "failed", len(failures), "context", merged.ID())
	return Outcome{Value: mergeValues(vals), Context: merged.ID()}, nil
}

func (x *Executor) selectBest(ctx context.Context, e *Execution, all []*Result, log *zap.SugaredLogger) (Outcome, error) {
	var (
		winner   *Result
		top      float64
		failures []*errors.PathError
	)
	for _, r := range all {
		if r.Err != nil {
			failures = append(failures, asPathError(r))
			continue
		}
		score, err := e.evaluator(ctx, r.Value)
		if err != nil {
			failures = append(failures, &errors.PathError{Path: r.Path, Err: errors.Wrap(err, "evaluate")})
			continue
		}
		if winner == nil || score > top {
			winner, top = r, score
		}
	}
	for _, r := range all {
		if r != winner {
			x.scopes.Release(r.Context)
		}
	}

	if winner == nil {
		e.finish(Failed)
		return Outcome{}, &errors.AllPathsFailedError{Failures: failures}
	}
	e.finish(Completed)
	log.Debugw("select", "winner", winner.Path, "score", top)
	return Outcome{Value: winner.Value, Context: winner.Context}, nil
}

func asPathError(r *Result) *errors.PathError {
	var pe *errors.PathError
	if errors.As(r.Err, &pe) {
		return pe
	}
	return &errors.PathError{Path: r.Path, Err: r.Err}
}

// WithTimeout wraps body so that it runs under a deadline. The executor has
// no timeout of its own; a body that ignores its context still runs to
// completion.
func WithTimeout(body Body, d time.Duration) Body {
	return func(ctx context.Context, th *scope.Thread) (value.Value, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		v, err := body(ctx, th)
		if err == nil && ctx.Err() != nil {
			return value.Void, errors.Wrapf(ctx.Err(), "path exceeded %s", d)
		}
		return v, err
	}
}
