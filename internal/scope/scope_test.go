package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rcliao/ctxrt/internal/config"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/memory"
	"github.com/rcliao/ctxrt/internal/value"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	log := zaptest.NewLogger(t).Sugar()
	m, err := NewManager(memory.NewManager(cfg.Memory.Ceiling, log), Options{
		RegionCapacity: 256,
		Decay:          cfg.Attention,
	}, log)
	require.NoError(t, err)
	return m
}

func TestCreate(t *testing.T) {
	m := newTestManager(t)
	root := m.Root()
	assert.Equal(t, RootName, root.Name())
	assert.Equal(t, memory.Durable, root.Region().Kind())

	a, err := m.Create("A", NoParent)
	require.NoError(t, err)
	b, err := m.Create("", a.ID())
	require.NoError(t, err)

	assert.Equal(t, root.ID(), a.Parent())
	assert.Equal(t, a.ID(), b.Parent())
	assert.Equal(t, []ID{a.ID()}, m.Children(root.ID()))
	assert.InDelta(t, 1.0, b.Attention(), 1e-9)
	assert.Equal(t, int(b.ID()), b.Region().Owner())

	m.Release(a.ID())
	assert.Equal(t, Destroyed, a.State())
	assert.Equal(t, Destroyed, b.State(), "destruction cascades to children")
	assert.True(t, b.Region().Freed())

	_, err = m.Create("C", a.ID())
	assert.True(t, errors.Is(err, errors.ErrInvalidParent))
}

func TestCreateOutOfBudget(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	m, err := NewManager(memory.NewManager(300, log), Options{RegionCapacity: 200, Decay: config.Default().Attention}, log)
	require.NoError(t, err)

	_, err = m.Create("too-big", NoParent)
	assert.True(t, errors.Is(err, errors.ErrOutOfBudget))
	assert.True(t, errors.IsStructural(err))
}

func TestEnterExitDiscardsScope(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()

	_, err := th.Enter("A")
	require.NoError(t, err)
	th.Declare("x", value.Int(1))
	v, err := th.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.AsInt())

	require.NoError(t, th.Exit())
	_, err = th.Resolve("x")
	assert.True(t, errors.Is(err, errors.ErrUnboundIdentifier))
	assert.True(t, errors.IsRecoverable(err))

	err = th.Exit()
	assert.True(t, errors.Is(err, errors.ErrCannotExitRoot))
}

func TestExitPolicy(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()

	anon, err := th.Enter("")
	require.NoError(t, err)
	require.NoError(t, th.Exit())
	assert.Equal(t, Destroyed, anon.State(), "anonymous leaf is destroyed on exit")

	named, err := th.Enter("keep")
	require.NoError(t, err)
	require.NoError(t, th.Exit())
	assert.Equal(t, Dormant, named.State())

	found, err := m.FindByName("keep")
	require.NoError(t, err)
	assert.Equal(t, named.ID(), found.ID())
}

func TestResolveWalksAncestors(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()
	th.Declare("x", value.Int(1))

	_, err := th.Enter("inner")
	require.NoError(t, err)
	v, err := th.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.AsInt())

	require.NoError(t, th.Assign("x", value.Int(2)))
	th.Declare("x", value.Int(3))
	v, _ = th.Resolve("x")
	assert.Equal(t, int64(3), v.AsInt(), "inner declaration shadows")

	require.NoError(t, th.Exit())
	v, _ = th.Resolve("x")
	assert.Equal(t, int64(2), v.AsInt(), "assign updated the outer binding")

	err = th.Assign("nope", value.Int(1))
	assert.True(t, errors.Is(err, errors.ErrUndefinedAssignment))
}

func TestFindByName(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Create("A", NoParent)
	deep, _ := m.Create("target", a.ID())
	shallow, _ := m.Create("target", NoParent)
	m.Create("", NoParent)

	c, err := m.FindByName("target")
	require.NoError(t, err)
	assert.Equal(t, shallow.ID(), c.ID(), "breadth-first: shallower match wins")
	assert.NotEqual(t, deep.ID(), c.ID())

	m.Release(shallow.ID())
	c, err = m.FindByName("target")
	require.NoError(t, err)
	assert.Equal(t, deep.ID(), c.ID())

	_, err = m.FindByName("")
	assert.True(t, errors.Is(err, errors.ErrContextNotFound))
	_, err = m.FindByName("missing")
	assert.True(t, errors.Is(err, errors.ErrContextNotFound))
}

func TestFindByNamePrefersEarlierSibling(t *testing.T) {
	m := newTestManager(t)
	first, _ := m.Create("dup", NoParent)
	m.Create("dup", NoParent)

	c, err := m.FindByName("dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), c.ID())
}

func TestWithinRestoresActive(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()
	shared, err := th.Enter("shared")
	require.NoError(t, err)
	th.Declare("secret", value.String("s"))
	require.NoError(t, th.Exit())

	_, err = th.Enter("other")
	require.NoError(t, err)
	other := th.ActiveID()

	err = th.Within("shared", func() error {
		assert.Equal(t, shared.ID(), th.ActiveID())
		v, err := th.Resolve("secret")
		require.NoError(t, err)
		assert.Equal(t, "s", v.AsString())
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, other, th.ActiveID(), "restored on abnormal exit")

	assert.Panics(t, func() {
		_ = th.Within("shared", func() error { panic("bad") })
	})
	assert.Equal(t, other, th.ActiveID(), "restored on panic")

	err = th.Within("nowhere", func() error { return nil })
	assert.True(t, errors.Is(err, errors.ErrContextNotFound))
}

func TestRememberRecall(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()

	_, err := th.Remember("k", value.Int(1))
	require.NoError(t, err)
	_, err = th.Remember("k", value.Int(2))
	require.NoError(t, err)
	v, err := th.Recall("k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.AsInt(), "last write wins per key")

	th.Remember("a", value.Int(1))
	th.Remember("b", value.Int(2))
	v, err = th.Recall("")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.AsInt(), "unkeyed recall returns the most recent write")

	_, err = th.Recall("missing")
	assert.True(t, errors.Is(err, errors.ErrNothingRemembered))
}

func TestRecallAcrossAncestors(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()
	th.Remember("outer", value.String("root"))

	_, err := th.Enter("child")
	require.NoError(t, err)
	_, err = th.Recall("")
	require.NoError(t, err)

	th.Remember("inner", value.String("child"))
	th.Exit()
	th.Remember("later", value.String("root-later"))

	require.NoError(t, th.Within("child", func() error {
		v, err := th.Recall("")
		require.NoError(t, err)
		assert.Equal(t, "root-later", v.AsString(), "most recent write wins, not nearest context")

		v, err = th.Recall("outer")
		require.NoError(t, err)
		assert.Equal(t, "root", v.AsString())
		return nil
	}))
}

func TestRecallNothing(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()
	_, err := th.Recall("")
	assert.True(t, errors.Is(err, errors.ErrNothingRemembered))
	assert.True(t, errors.IsRecoverable(err))
}

func TestRememberAutoKeysAreMonotonic(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()
	k1, err := th.Remember("", value.Int(1))
	require.NoError(t, err)
	k2, err := th.Remember("", value.Int(2))
	require.NoError(t, err)
	assert.Equal(t, "#1", k1)
	assert.Equal(t, "#2", k2)
}

func TestMergeLaterWins(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Create("a", NoParent)
	b, _ := m.Create("b", NoParent)

	ta := m.Attach(a.ID())
	ta.Declare("x", value.Int(1))
	ta.Declare("only_a", value.Bool(true))
	ta.Remember("k", value.String("from-a"))
	ta.Detach()

	tb := m.Attach(b.ID())
	tb.Declare("x", value.Int(2))
	tb.Remember("k", value.String("from-b"))
	tb.Detach()

	merged, err := m.Merge([]ID{a.ID(), b.ID()})
	require.NoError(t, err)
	assert.Equal(t, "a+b", merged.Name())
	assert.Equal(t, m.Root().ID(), merged.Parent())

	th := m.Attach(merged.ID())
	defer th.Detach()
	v, _ := th.Resolve("x")
	assert.Equal(t, int64(2), v.AsInt())
	v, _ = th.Resolve("only_a")
	assert.True(t, v.AsBool())
	v, _ = th.Recall("k")
	assert.Equal(t, "from-b", v.AsString())
}

func TestAttentionDecay(t *testing.T) {
	m := newTestManager(t)
	root := m.Root()
	a, _ := m.Create("a", NoParent)
	a1, _ := m.Create("a1", a.ID())
	a2, _ := m.Create("a2", a.ID())
	a11, _ := m.Create("a11", a1.ID())
	a111, _ := m.Create("a111", a11.ID())
	b, _ := m.Create("b", NoParent)

	m.DecayAttention(a1.ID())

	tests := []struct {
		name string
		c    *Context
		want float64
	}{
		{"active", a1, 1.0},
		{"parent", a, 0.98},
		{"child", a11, 0.98},
		{"ancestor", root, 0.97},
		{"descendant", a111, 0.97},
		{"sibling", a2, 0.96},
		{"unrelated", b, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.c.Attention(), 1e-9)
			assert.InDelta(t, tt.c.Attention(), tt.c.Region().Attention(), 1e-12, "region mirrors context")
		})
	}

	m.DecayAttention(b.ID())
	assert.InDelta(t, 0.98*0.95, a.Attention(), 1e-9, "scores keep decaying while inactive")
	assert.InDelta(t, 1.0, b.Attention(), 1e-9)

	m.DecayAttention(a.ID())
	assert.InDelta(t, 1.0, a.Attention(), 1e-9, "reset on reactivation")
}

func TestCollectProtectsActiveChain(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()

	idle, err := th.Enter("idle")
	require.NoError(t, err)
	th.Remember("v", value.String("data"))
	require.NoError(t, th.Exit())

	_, err = th.Enter("work")
	require.NoError(t, err)
	leaf, err := th.Enter("leaf")
	require.NoError(t, err)
	th.Remember("v", value.String("important"))

	// Drive the active leaf's own score to the bottom; it must still survive.
	leaf.setAttention(0)
	m.Memory().SetAttention(leaf.Region(), 0)

	report := m.Collect(0)
	assert.Contains(t, report.Destroyed, idle.ID())
	assert.Equal(t, Destroyed, idle.State())
	assert.False(t, leaf.Region().Freed())
	assert.NotEqual(t, Destroyed, m.Root().State())

	v, err := th.Recall("v")
	require.NoError(t, err)
	assert.Equal(t, "important", v.AsString())
}

func TestCollectSparesRunningPaths(t *testing.T) {
	m := newTestManager(t)
	main := m.Main()
	path, err := m.Fork("p1", main.ActiveID())
	require.NoError(t, err)
	pt := m.Attach(path.ID())
	pt.Remember("r", value.Int(1))

	main.Detach()
	m.Collect(0)
	assert.NotEqual(t, Destroyed, path.State())

	pt.Detach()
	report := m.Collect(0)
	assert.Contains(t, report.Destroyed, path.ID())
}

func TestCollectReportCountsCascade(t *testing.T) {
	m := newTestManager(t)
	th := m.Main()

	outer, err := th.Enter("outer")
	require.NoError(t, err)
	_, err = th.Remember("a", value.Int(1))
	require.NoError(t, err)
	inner, err := th.Enter("inner")
	require.NoError(t, err)
	_, err = th.Remember("b", value.Int(2))
	require.NoError(t, err)
	require.NoError(t, th.Exit())
	require.NoError(t, th.Exit())

	// outer is the stalest region; freeing it alone meets the target, but
	// destroying it takes inner along.
	outer.setAttention(0.1)
	m.Memory().SetAttention(outer.Region(), 0.1)
	used := inner.Region().Used()
	total := 3 * 256
	report := m.Collect((float64(used) + 0.5) / float64(total))

	assert.ElementsMatch(t, []ID{outer.ID(), inner.ID()}, report.Destroyed)
	assert.True(t, inner.Region().Freed())
	assert.Equal(t, 0, report.UsedAfter)
	assert.Equal(t, m.Memory().Stats().Used, report.UsedAfter)
	assert.True(t, report.Satisfied)
}
