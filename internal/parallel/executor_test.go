package parallel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rcliao/ctxrt/internal/config"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/memory"
	"github.com/rcliao/ctxrt/internal/scope"
	"github.com/rcliao/ctxrt/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestExecutor(t *testing.T, maxPaths int) (*Executor, *scope.Manager) {
	t.Helper()
	cfg := config.Default()
	log := zaptest.NewLogger(t).Sugar()
	scopes, err := scope.NewManager(memory.NewManager(cfg.Memory.Ceiling, log), scope.Options{
		RegionCapacity: 256,
		Decay:          cfg.Attention,
	}, log)
	require.NoError(t, err)
	return NewExecutor(scopes, maxPaths, log), scopes
}

func returns(v value.Value) Body {
	return func(context.Context, *scope.Thread) (value.Value, error) { return v, nil }
}

func fails(msg string) Body {
	return func(context.Context, *scope.Thread) (value.Value, error) { return value.Void, errors.New(msg) }
}

func waitDone(t *testing.T, e *Execution) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("execution never drained")
	}
}

func TestSubmitValidation(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	root := scopes.Root().ID()

	_, err := x.Submit(root, nil, Fastest, nil)
	assert.True(t, errors.Is(err, errors.ErrNoPaths))

	_, err = x.Submit(root, []Path{{"p", returns(value.Int(1))}, {"p", returns(value.Int(2))}}, All, nil)
	assert.True(t, errors.Is(err, errors.ErrDuplicatePath))

	_, err = x.Submit(root, []Path{{"p", returns(value.Int(1))}}, Best, nil)
	assert.True(t, errors.Is(err, errors.ErrMissingEvaluator))
	assert.True(t, errors.IsStructural(err))

	e, err := x.Submit(root, []Path{{"p", returns(value.Int(1))}}, Fastest, nil)
	require.NoError(t, err)
	assert.Equal(t, Pending, e.Status())
}

func TestFastestReturnsOneResult(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"p1", returns(value.Int(1))},
		{"p2", returns(value.Int(2))},
	}, Fastest, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Contains(t, []int64{1, 2}, out.Value.AsInt())
	assert.Equal(t, Completed, e.Status())
	require.Len(t, e.Results(), 1)

	waitDone(t, e)
	winner, ok := scopes.Get(out.Context)
	require.True(t, ok)
	assert.NotEqual(t, scope.Destroyed, winner.State())
	assert.Len(t, scopes.Children(scopes.Root().ID()), 1, "loser context released")
}

func TestFastestDoesNotWaitForSlowPaths(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	var cancelled atomic.Bool
	slow := func(ctx context.Context, _ *scope.Thread) (value.Value, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return value.String("slow"), nil
	}

	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"slow", slow},
		{"quick", returns(value.String("quick"))},
	}, Fastest, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "quick", out.Value.AsString())

	waitDone(t, e)
	assert.True(t, cancelled.Load(), "losers observe cancellation")
	assert.Len(t, e.Results(), 1, "disowned results are discarded")
}

func TestFastestFirstFailure(t *testing.T) {
	x, scopes := newTestExecutor(t, 1)
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"bad", fails("boom")},
		{"good", returns(value.Int(1))},
	}, Fastest, nil)
	require.NoError(t, err)

	_, err = x.Run(context.Background(), e)
	require.Error(t, err)
	var pe *errors.PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad", pe.Path)
	assert.True(t, errors.IsRecoverable(err))
	assert.Equal(t, Failed, e.Status())
	waitDone(t, e)
}

func TestAllConcatenatesLists(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"p1", returns(value.List(value.Int(1), value.Int(2)))},
		{"p2", returns(value.List(value.Int(3)))},
	}, All, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3]", out.Value.String())
	waitDone(t, e)

	merged, ok := scopes.Get(out.Context)
	require.True(t, ok)
	assert.Equal(t, "p1+p2", merged.Name())
	assert.Equal(t, []scope.ID{merged.ID()}, scopes.Children(scopes.Root().ID()))
}

func TestAllMergesContexts(t *testing.T) {
	x, scopes := newTestExecutor(t, 2)
	body := func(n int64) Body {
		return func(_ context.Context, th *scope.Thread) (value.Value, error) {
			th.Declare("shared", value.Int(n))
			if _, err := th.Remember("k", value.Int(n)); err != nil {
				return value.Void, err
			}
			return value.Int(n), nil
		}
	}
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"a", body(1)}, {"b", fails("nope")}, {"c", body(3)},
	}, All, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "[1, 3]", out.Value.String(), "failed paths are omitted")

	th := scopes.Attach(out.Context)
	defer th.Detach()
	v, err := th.Resolve("shared")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.AsInt(), "later declared path wins")
	v, err = th.Recall("k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.AsInt())
}

func TestBestPicksHighestScore(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	identity := func(_ context.Context, v value.Value) (float64, error) { return v.AsFloat(), nil }
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"p1", returns(value.Int(10))},
		{"p2", returns(value.Int(20))},
	}, Best, identity)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Value.AsInt())

	c, _ := scopes.Get(out.Context)
	assert.Equal(t, "p2", c.Name())
	assert.Len(t, e.Results(), 2)
}

func TestBestTieGoesToDeclarationOrder(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	constant := func(context.Context, value.Value) (float64, error) { return 1, nil }
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"first", returns(value.String("a"))},
		{"second", returns(value.String("b"))},
	}, Best, constant)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "a", out.Value.AsString())
}

func TestAllPathsFailed(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"p1", fails("one")},
		{"p2", func(context.Context, *scope.Thread) (value.Value, error) { panic("two") }},
	}, All, nil)
	require.NoError(t, err)

	_, err = x.Run(context.Background(), e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAllPathsFailed))
	var apf *errors.AllPathsFailedError
	require.True(t, errors.As(err, &apf))
	require.Len(t, apf.Failures, 2)
	assert.Equal(t, "p1", apf.Failures[0].Path)
	assert.Contains(t, apf.Failures[1].Error(), "panic: two")
	assert.Equal(t, Failed, e.Status())
	assert.Empty(t, scopes.Children(scopes.Root().ID()))

	_, err = x.Run(context.Background(), e)
	assert.True(t, errors.Is(err, errors.ErrInvalidState), "terminal executions cannot run again")
}

func TestMaxPathsLimitsConcurrency(t *testing.T) {
	x, scopes := newTestExecutor(t, 2)
	var running, peak atomic.Int32
	body := func(context.Context, *scope.Thread) (value.Value, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return value.Int(1), nil
	}
	paths := []Path{{"a", body}, {"b", body}, {"c", body}, {"d", body}, {"e", body}}
	e, err := x.Submit(scopes.Root().ID(), paths, All, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Len(t, out.Value.AsList(), 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPathsRunInOwnChildContext(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	parent, err := scopes.Create("parent", scope.NoParent)
	require.NoError(t, err)

	body := func(_ context.Context, th *scope.Thread) (value.Value, error) {
		c := th.Active()
		if c.Parent() != parent.ID() {
			return value.Void, errors.New("wrong parent")
		}
		return value.String(c.Name()), nil
	}
	e, err := x.Submit(parent.ID(), []Path{{"x", body}, {"y", body}}, All, nil)
	require.NoError(t, err)

	out, err := x.Run(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, `["x", "y"]`, out.Value.String())
}

func TestWithTimeout(t *testing.T) {
	x, scopes := newTestExecutor(t, 0)
	hang := func(ctx context.Context, _ *scope.Thread) (value.Value, error) {
		<-ctx.Done()
		return value.Void, ctx.Err()
	}
	e, err := x.Submit(scopes.Root().ID(), []Path{
		{"hang", WithTimeout(hang, 10*time.Millisecond)},
	}, All, nil)
	require.NoError(t, err)

	_, err = x.Run(context.Background(), e)
	var apf *errors.AllPathsFailedError
	require.True(t, errors.As(err, &apf))
	assert.True(t, errors.Is(apf.Failures[0], context.DeadlineExceeded))
}

func TestMergeValues(t *testing.T) {
	a, b := value.NewMap(), value.NewMap()
	a.Set("x", value.Int(1))
	a.Set("y", value.Int(2))
	b.Set("x", value.Int(9))

	tests := []struct {
		name string
		in   []value.Value
		want string
	}{
		{"scalars", []value.Value{value.Int(1), value.String("s"), value.Bool(true)}, `[1, "s", true]`},
		{"lists", []value.Value{value.List(value.Int(1)), value.List(value.Int(2), value.Int(3))}, "[1, 2, 3]"},
		{"maps", []value.Value{value.MapOf(a), value.MapOf(b)}, `{"x": 9, "y": 2}`},
		{"mixed", []value.Value{value.List(value.Int(1)), value.Int(2)}, "[[1], 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeValues(tt.in).String())
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Best")
	require.NoError(t, err)
	assert.Equal(t, Best, s)

	_, err = ParseStrategy("slowest")
	assert.True(t, errors.Is(err, errors.ErrUnknownStrategy))
}
