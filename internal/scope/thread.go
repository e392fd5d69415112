package scope

import (
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/value"
)

// Thread is one execution thread's cursor into the tree. Exactly one context
// is active per thread; a Thread must not be shared between goroutines.
type Thread struct {
	m      *Manager
	active ID
}

// Main returns a thread positioned at the root.
func (m *Manager) Main() *Thread {
	return m.Attach(m.root)
}

// Attach returns a new thread whose active context is id.
func (m *Manager) Attach(id ID) *Thread {
	t := &Thread{m: m, active: NoParent}
	t.switchTo(id)
	return t
}

// Detach releases the thread's hold on its active context.
func (t *Thread) Detach() {
	t.switchTo(NoParent)
}

// Manager returns the tree this thread walks.
func (t *Thread) Manager() *Manager { return t.m }

// ActiveID returns the id of the active context.
func (t *Thread) ActiveID() ID { return t.active }

// Active returns the active context.
func (t *Thread) Active() *Context {
	c, _ := t.m.Get(t.active)
	return c
}

func (t *Thread) switchTo(id ID) {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if old := m.getLocked(t.active); old != nil {
		old.active.Add(-1)
	}
	t.active = id
	if c := m.getLocked(id); c != nil {
		c.active.Add(1)
		if c.State() == Dormant {
			c.state.Store(int32(Live))
		}
		m.decayLocked(id)
	}
}

// Enter creates a child of the active context and makes it active.
func (t *Thread) Enter(name string) (*Context, error) {
	c, err := t.m.Create(name, t.active)
	if err != nil {
		return nil, err
	}
	t.switchTo(c.id)
	return c, nil
}

// Exit reactivates the parent of the active context. The context left
// behind is destroyed when it is anonymous and has no live children.
func (t *Thread) Exit() error {
	c := t.Active()
	if c == nil || c.IsRoot() {
		return errors.WithStack(errors.ErrCannotExitRoot)
	}
	left := t.active
	t.switchTo(c.parent)
	t.m.retire(left)
	return nil
}

// Within runs fn with the context named name active, restoring the
// previously active context afterwards, including when fn fails or panics.
func (t *Thread) Within(name string, fn func() error) error {
	c, err := t.m.FindByName(name)
	if err != nil {
		return err
	}
	restore := t.Adopt(c.id)
	defer restore()
	return fn()
}

// Adopt makes id the active context and returns a func that restores the
// previous one. The adopted context goes dormant when it is left.
func (t *Thread) Adopt(id ID) (restore func()) {
	prev := t.active
	if prev == id {
		return func() {}
	}
	t.switchTo(id)
	return func() {
		t.switchTo(prev)
		t.m.mu.Lock()
		if c := t.m.getLocked(id); c != nil && !c.Active() && c.State() == Live && c.id != t.m.root {
			c.state.Store(int32(Dormant))
		}
		t.m.mu.Unlock()
	}
}

// Resolve looks name up in the active context, then its ancestors.
func (t *Thread) Resolve(name string) (value.Value, error) {
	for _, c := range t.m.chain(t.active) {
		if v, ok := c.lookup(name); ok {
			return v, nil
		}
	}
	return value.Void, errors.Wrapf(errors.ErrUnboundIdentifier, "%q", name)
}

// Declare binds name in the active context, shadowing outer bindings.
func (t *Thread) Declare(name string, v value.Value) {
	if c := t.Active(); c != nil {
		c.bind(name, v)
	}
}

// Assign rebinds the nearest existing binding of name on the ancestor chain.
func (t *Thread) Assign(name string, v value.Value) error {
	for _, c := range t.m.chain(t.active) {
		if c.rebind(name, v) {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrUndefinedAssignment, "%q", name)
}

// Remember stores v in the active context's semantic memory. An empty key
// is replaced by the next auto-generated key, which is returned.
func (t *Thread) Remember(key string, v value.Value) (string, error) {
	c := t.Active()
	if c == nil {
		return "", errors.AssertionFailedf("remember on a detached thread")
	}
	if key == "" {
		key = t.m.nextAutoKey()
	}
	if _, err := t.m.mem.Store(c.region, key, v); err != nil {
		return "", errors.Wrapf(err, "remember in context %d", c.id)
	}
	return key, nil
}

// Recall returns the value remembered under key, searching the active
// context first and then its ancestors. With an empty key it returns the
// most recent write anywhere on the ancestor chain.
func (t *Thread) Recall(key string) (value.Value, error) {
	chain := t.m.chain(t.active)
	if key != "" {
		for _, c := range chain {
			if e, err := t.m.mem.Lookup(c.region, key); err == nil {
				return e.Value, nil
			}
		}
		return value.Void, errors.Wrapf(errors.ErrNothingRemembered, "%q", key)
	}

	var (
		latest value.Value
		seq    uint64
	)
	for _, c := range chain {
		if e, ok := c.region.Latest(); ok && e.Seq > seq {
			latest, seq = e.Value, e.Seq
		}
	}
	if seq == 0 {
		return value.Void, errors.WithStack(errors.ErrNothingRemembered)
	}
	return latest, nil
}
