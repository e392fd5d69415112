package interp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/value"
)

func (in *Interpreter) newBuiltins() map[string]*value.Func {
	fns := []*value.Func{
		{Name: "print", Arity: -1, Call: in.print},
		{Name: "len", Arity: 1, Call: length},
		{Name: "str", Arity: 1, Call: func(_ context.Context, args []value.Value) (value.Value, error) {
			return value.String(args[0].String()), nil
		}},
		{Name: "sleep", Arity: 1, Call: sleep},
		{Name: "context", Arity: 0, Call: func(ctx context.Context, _ []value.Value) (value.Value, error) {
			return threadFrom(ctx).Active().Value(), nil
		}},
		{Name: "collect", Arity: -1, Call: in.collect},
		{Name: "merge", Arity: -1, Call: in.merge},
	}
	out := make(map[string]*value.Func, len(fns))
	for _, f := range fns {
		out[f.Name] = f
	}
	return out
}

func (in *Interpreter) print(_ context.Context, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	in.outMu.Lock()
	defer in.outMu.Unlock()
	_, err := fmt.Fprintln(in.opts.Out, strings.Join(parts, " "))
	return value.Void, err
}

func length(_ context.Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind {
	case value.KindString:
		return value.Int(int64(len(v.AsString()))), nil
	case value.KindList:
		return value.Int(int64(len(v.AsList()))), nil
	case value.KindMap:
		return value.Int(int64(v.AsMap().Len())), nil
	}
	return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "len of %s", v.Kind)
}

func sleep(ctx context.Context, args []value.Value) (value.Value, error) {
	if !args[0].IsNumeric() {
		return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "sleep takes milliseconds, got %s", args[0].Kind)
	}
	t := time.NewTimer(time.Duration(args[0].AsFloat() * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
		return value.Void, nil
	case <-ctx.Done():
		return value.Void, errors.Wrap(ctx.Err(), "sleep interrupted")
	}
}

// collect runs the attention collector between parallel episodes. It is
// refused inside a path body.
func (in *Interpreter) collect(ctx context.Context, args []value.Value) (value.Value, error) {
	if p, ok := ctx.Value(pathKey{}).(string); ok {
		return value.Void, errors.Wrapf(errors.ErrInvalidState, "collect inside parallel path %q", p)
	}
	// The episode being scored has not finished, so waiting for it would block.
	if ctx.Value(evaluatorKey{}) != nil {
		return value.Void, errors.Wrap(errors.ErrInvalidState, "collect inside a best evaluator")
	}
	threshold := in.opts.CollectThreshold
	if len(args) > 0 {
		if !args[0].IsNumeric() {
			return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "collect fraction must be numeric, got %s", args[0].Kind)
		}
		threshold = args[0].AsFloat()
	}
	in.Wait()
	return ReportValue(in.scopes.Collect(threshold)), nil
}

// merge joins the given contexts into a new one under the first context's
// parent and returns it. Later arguments win on name or key collisions.
func (in *Interpreter) merge(_ context.Context, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Void, errors.Wrap(errors.ErrTypeMismatch, "merge takes at least one context")
	}
	ids := make([]scope.ID, 0, len(args))
	for _, a := range args {
		if a.Kind != value.KindContext {
			return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "merge of %s", a.Kind)
		}
		ids = append(ids, scope.ID(a.AsContext().ID))
	}
	c, err := in.scopes.Merge(ids)
	if err != nil {
		return value.Void, err
	}
	return c.Value(), nil
}

// ReportValue renders a collection report as a map value.
func ReportValue(r scope.CollectReport) value.Value {
	destroyed := make([]value.Value, len(r.Destroyed))
	for i, id := range r.Destroyed {
		destroyed[i] = value.Int(int64(id))
	}
	m := value.NewMap()
	m.Set("threshold", value.Float(r.Threshold))
	m.Set("total_capacity", value.Int(int64(r.TotalCapacity)))
	m.Set("target", value.Float(r.Target))
	m.Set("used_before", value.Int(int64(r.UsedBefore)))
	m.Set("used_after", value.Int(int64(r.UsedAfter)))
	m.Set("satisfied", value.Bool(r.Satisfied))
	m.Set("destroyed", value.ListOf(destroyed))
	return value.MapOf(m)
}
