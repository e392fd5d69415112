// Package interp evaluates program trees against the context tree,
// delegating scoping to scope, storage to memory and parallel constructs to
// the parallel executor.
package interp

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rcliao/ctxrt/internal/ast"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/parallel"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/value"
)

// Options configures an Interpreter.
type Options struct {
	// Out receives print output. Defaults to os.Stdout.
	Out io.Writer
	// CollectThreshold is used by collect() when called without a fraction.
	CollectThreshold float64
}

// Interpreter evaluates programs. Each Run uses its own thread positioned
// at the root context.
type Interpreter struct {
	scopes *scope.Manager
	exec   *parallel.Executor
	opts   Options
	log    *zap.SugaredLogger

	outMu    sync.Mutex
	builtins map[string]*value.Func
	episodes sync.WaitGroup
	// calls maps a running call's context to whether a lambda defined
	// inside it may outlive the call.
	calls sync.Map
}

// New creates an interpreter over scopes and exec.
func New(scopes *scope.Manager, exec *parallel.Executor, opts Options, log *zap.SugaredLogger) *Interpreter {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	in := &Interpreter{
		scopes: scopes,
		exec:   exec,
		opts:   opts,
		log:    logging.Named(log, "interp"),
	}
	in.builtins = in.newBuiltins()
	return in
}

// returnSignal carries a return value up to the enclosing function, path or
// program. It is never surfaced to callers.
type returnSignal struct {
	v value.Value
}

func (r *returnSignal) Error() string { return "return outside of function" }

type threadKey struct{}
type pathKey struct{}
type evaluatorKey struct{}

func withThread(ctx context.Context, th *scope.Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, th)
}

func threadFrom(ctx context.Context) *scope.Thread {
	th, _ := ctx.Value(threadKey{}).(*scope.Thread)
	return th
}

// frame is one block's evaluation state. Contexts adopted after a parallel
// construct stay active until the block ends.
type frame struct {
	th       *scope.Thread
	restores []func()
}

func (f *frame) close() {
	for i := len(f.restores) - 1; i >= 0; i-- {
		f.restores[i]()
	}
	f.restores = nil
}

// Run evaluates program on a fresh thread at the root and returns the value
// of its return statement, or of its last statement.
func (in *Interpreter) Run(ctx context.Context, program *ast.Node) (value.Value, error) {
	if err := program.Validate(); err != nil {
		return value.Void, err
	}
	th := in.scopes.Main()
	defer th.Detach()

	in.log.Debugw("run", "statements", len(program.Body))
	v, err := in.execBlock(withThread(ctx, th), th, program.Body)
	var ret *returnSignal
	if errors.As(err, &ret) {
		return ret.v, nil
	}
	return v, err
}

// Wait blocks until every parallel episode started by this interpreter has
// drained, including disowned "fastest" paths.
func (in *Interpreter) Wait() { in.episodes.Wait() }

func (in *Interpreter) execBlock(ctx context.Context, th *scope.Thread, stmts []*ast.Node) (value.Value, error) {
	f := &frame{th: th}
	defer f.close()

	last := value.Void
	for _, s := range stmts {
		// Safe point for cooperative cancellation.
		if err := ctx.Err(); err != nil {
			return value.Void, errors.Wrap(err, "cancelled")
		}
		v, err := in.eval(ctx, f, s)
		if err != nil {
			return value.Void, err
		}
		last = v
	}
	return last, nil
}

func (in *Interpreter) eval(ctx context.Context, f *frame, n *ast.Node) (value.Value, error) {
	th := f.th
	switch n.Kind {
	case ast.Block:
		return in.execBlock(ctx, th, n.Body)

	case ast.Let:
		v, err := in.eval(ctx, f, n.Expr)
		if err != nil {
			return value.Void, err
		}
		th.Declare(n.Name, v)
		return v, nil

	case ast.Assign:
		v, err := in.eval(ctx, f, n.Expr)
		if err != nil {
			return value.Void, err
		}
		return v, th.Assign(n.Name, v)

	case ast.Ident:
		v, err := th.Resolve(n.Name)
		if err != nil {
			if b, ok := in.builtins[n.Name]; ok {
				return value.FuncOf(b), nil
			}
		}
		return v, err

	case ast.Literal:
		v, err := value.FromGo(n.Value)
		if err != nil {
			return value.Void, errors.Wrapf(errors.ErrBadProgram, "literal: %v", err)
		}
		return v, nil

	case ast.List:
		items := make([]value.Value, 0, len(n.Items))
		for _, item := range n.Items {
			v, err := in.eval(ctx, f, item)
			if err != nil {
				return value.Void, err
			}
			items = append(items, v)
		}
		return value.ListOf(items), nil

	case ast.Map:
		m := value.NewMap()
		for _, fld := range n.Fields {
			v, err := in.eval(ctx, f, fld.Value)
			if err != nil {
				return value.Void, err
			}
			m.Set(fld.Key, v)
		}
		return value.MapOf(m), nil

	case ast.Binary:
		return in.evalBinary(ctx, f, n)

	case ast.Unary:
		v, err := in.eval(ctx, f, n.Expr)
		if err != nil {
			return value.Void, err
		}
		return unary(n.Op, v)

	case ast.Call:
		return in.evalCall(ctx, f, n)

	case ast.Lambda:
		in.capture(th.ActiveID())
		return in.lambda(n, th.ActiveID()), nil

	case ast.Return:
		v := value.Void
		if n.Expr != nil {
			var err error
			if v, err = in.eval(ctx, f, n.Expr); err != nil {
				return value.Void, err
			}
		}
		return value.Void, &returnSignal{v: v}

	case ast.With:
		return in.evalWith(ctx, th, n)

	case ast.Within:
		var out value.Value
		err := th.Within(n.Name, func() error {
			v, err := in.execBlock(ctx, th, n.Body)
			out = v
			return err
		})
		return out, err

	case ast.Remember:
		v, err := in.eval(ctx, f, n.Expr)
		if err != nil {
			return value.Void, err
		}
		if _, err := th.Remember(n.Key, v); err != nil {
			return value.Void, err
		}
		return v, nil

	case ast.Recall:
		return th.Recall(n.Key)

	case ast.Parallel:
		return in.evalParallel(ctx, f, n)

	case ast.Try:
		return in.evalTry(ctx, th, n)

	case ast.If:
		cond, err := in.eval(ctx, f, n.Cond)
		if err != nil {
			return value.Void, err
		}
		if cond.Truthy() {
			return in.execBlock(ctx, th, n.Body)
		}
		return in.execBlock(ctx, th, n.Else)
	}
	return value.Void, errors.Wrapf(errors.ErrBadProgram, "cannot evaluate %q", n.Kind)
}

// evalWith runs the body in a new child context and exits it afterwards,
// also when the body fails.
func (in *Interpreter) evalWith(ctx context.Context, th *scope.Thread, n *ast.Node) (out value.Value, err error) {
	c, err := th.Enter(n.Name)
	if err != nil {
		return value.Void, err
	}
	in.log.Debugw("with", "context", c.ID(), "name", n.Name)
	defer func() {
		if exitErr := th.Exit(); err == nil {
			err = exitErr
		}
	}()
	return in.execBlock(ctx, th, n.Body)
}

func (in *Interpreter) evalTry(ctx context.Context, th *scope.Thread, n *ast.Node) (value.Value, error) {
	v, err := in.execBlock(ctx, th, n.Body)
	if err == nil || !errors.IsRecoverable(err) {
		return v, err
	}
	in.log.Debugw("caught", "error", err)
	if n.As != "" {
		th.Declare(n.As, value.String(err.Error()))
	}
	return in.execBlock(ctx, th, n.Catch)
}

func (in *Interpreter) evalCall(ctx context.Context, f *frame, n *ast.Node) (value.Value, error) {
	var callee value.Value
	var err error
	if n.Callee != nil {
		callee, err = in.eval(ctx, f, n.Callee)
	} else {
		callee, err = in.eval(ctx, f, &ast.Node{Kind: ast.Ident, Name: n.Name})
	}
	if err != nil {
		return value.Void, err
	}
	fn := callee.AsFunc()
	if callee.Kind != value.KindFunc || fn == nil {
		return value.Void, errors.Wrapf(errors.ErrNotCallable, "%s", callee.Kind)
	}

	args := make([]value.Value, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := in.eval(ctx, f, a)
		if err != nil {
			return value.Void, err
		}
		args = append(args, v)
	}
	if fn.Arity >= 0 && len(args) != fn.Arity {
		return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "%s takes %d arguments, got %d", fn.Name, fn.Arity, len(args))
	}
	return fn.Call(withThread(ctx, f.th), args)
}

// capture marks every running call context on the chain of defining, so
// those contexts are kept when their call returns.
func (in *Interpreter) capture(defining scope.ID) {
	for id := defining; id != scope.NoParent; {
		if escaped, ok := in.calls.Load(id); ok {
			escaped.(*atomic.Bool).Store(true)
		}
		c, ok := in.scopes.Get(id)
		if !ok {
			return
		}
		id = c.Parent()
	}
}

// lambda closes over the defining context. Each call runs in a fresh
// anonymous child of that context on the caller's thread. A call context
// in which another lambda was defined is left dormant instead of released,
// so the inner closure can still be called. Once the collector reclaims
// it, calling the closure fails with ErrContextNotFound.
func (in *Interpreter) lambda(n *ast.Node, defining scope.ID) value.Value {
	name := n.Name
	if name == "" {
		name = "lambda"
	}
	return value.FuncOf(&value.Func{
		Name:  name,
		Arity: len(n.Params),
		Call: func(ctx context.Context, args []value.Value) (value.Value, error) {
			th := threadFrom(ctx)
			if th == nil {
				return value.Void, errors.AssertionFailedf("call of %s without a thread", name)
			}
			if dc, ok := in.scopes.Get(defining); !ok || dc.State() == scope.Destroyed {
				return value.Void, errors.Wrapf(errors.ErrContextNotFound, "scope of %s was collected", name)
			}
			c, err := in.scopes.Create("", defining)
			if err != nil {
				return value.Void, errors.Wrapf(err, "call %s", name)
			}
			escaped := &atomic.Bool{}
			in.calls.Store(c.ID(), escaped)
			restore := th.Adopt(c.ID())
			defer func() {
				restore()
				in.calls.Delete(c.ID())
				if !escaped.Load() {
					in.scopes.Release(c.ID())
				}
			}()
			for i, p := range n.Params {
				th.Declare(p, args[i])
			}
			v, err := in.execBlock(ctx, th, n.Body)
			var ret *returnSignal
			if errors.As(err, &ret) {
				return ret.v, nil
			}
			return v, err
		},
	})
}

func (in *Interpreter) evalParallel(ctx context.Context, f *frame, n *ast.Node) (value.Value, error) {
	th := f.th
	strategy, err := parallel.ParseStrategy(n.Strategy)
	if err != nil {
		return value.Void, err
	}

	var eval parallel.Evaluator
	if n.Evaluator != nil {
		fv, err := in.eval(ctx, f, n.Evaluator)
		if err != nil {
			return value.Void, err
		}
		fn := fv.AsFunc()
		if fv.Kind != value.KindFunc || fn == nil {
			return value.Void, errors.Wrapf(errors.ErrNotCallable, "evaluator is %s", fv.Kind)
		}
		eval = func(ctx context.Context, v value.Value) (float64, error) {
			ctx = context.WithValue(withThread(ctx, th), evaluatorKey{}, true)
			score, err := fn.Call(ctx, []value.Value{v})
			if err != nil {
				return 0, err
			}
			if !score.IsNumeric() {
				return 0, errors.Wrapf(errors.ErrTypeMismatch, "evaluator returned %s", score.Kind)
			}
			return score.AsFloat(), nil
		}
	}

	paths := make([]parallel.Path, 0, len(n.Paths))
	for _, p := range n.Paths {
		paths = append(paths, parallel.Path{Name: p.Name, Body: in.pathBody(p)})
	}

	e, err := in.exec.Submit(th.ActiveID(), paths, strategy, eval)
	if err != nil {
		return value.Void, err
	}
	in.episodes.Add(1)
	go func() {
		<-e.Done()
		in.episodes.Done()
	}()

	out, err := in.exec.Run(ctx, e)
	if err != nil {
		return value.Void, err
	}
	f.restores = append(f.restores, th.Adopt(out.Context))
	return out.Value, nil
}

func (in *Interpreter) pathBody(p *ast.Node) parallel.Body {
	return func(ctx context.Context, th *scope.Thread) (value.Value, error) {
		ctx = context.WithValue(withThread(ctx, th), pathKey{}, p.Name)
		v, err := in.execBlock(ctx, th, p.Body)
		var ret *returnSignal
		if errors.As(err, &ret) {
			return ret.v, nil
		}
		return v, err
	}
}
