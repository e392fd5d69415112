// Package value defines the runtime values the interpreter manipulates.
package value

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the runtime kinds a Value may hold.
type Kind int

const (
	KindVoid    Kind = iota // no payload
	KindBool                // bool
	KindInt                 // int64
	KindFloat               // float64
	KindString              // string
	KindList                // []Value
	KindMap                 // *Map
	KindFunc                // *Func
	KindContext             // ContextRef
)

var kindNames = [...]string{"void", "bool", "int", "float", "string", "list", "map", "func", "context"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is the universal runtime carrier. Data holds the Go payload for Kind.
type Value struct {
	Kind Kind
	Data any
}

// Void is the empty value.
var Void = Value{Kind: KindVoid}

func Bool(b bool) Value       { return Value{Kind: KindBool, Data: b} }
func Int(n int64) Value       { return Value{Kind: KindInt, Data: n} }
func Float(f float64) Value   { return Value{Kind: KindFloat, Data: f} }
func String(s string) Value   { return Value{Kind: KindString, Data: s} }
func List(xs ...Value) Value  { return Value{Kind: KindList, Data: xs} }
func ListOf(xs []Value) Value { return Value{Kind: KindList, Data: xs} }
func MapOf(m *Map) Value      { return Value{Kind: KindMap, Data: m} }

// Func is a callable value. Call receives the caller's cancellation context.
type Func struct {
	Name  string
	Arity int // -1 for variadic
	Call  func(ctx context.Context, args []Value) (Value, error)
}

func FuncOf(f *Func) Value { return Value{Kind: KindFunc, Data: f} }

// ContextRef names a runtime context.
type ContextRef struct {
	ID   int
	Name string
}

func ContextOf(id int, name string) Value {
	return Value{Kind: KindContext, Data: ContextRef{ID: id, Name: name}}
}

// Map is an insertion-ordered string-keyed map.
type Map struct {
	Keys    []string
	Entries map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{Entries: map[string]Value{}}
}

// Set inserts or overwrites key, keeping the first insertion position.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.Entries[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	m.Entries[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.Entries[key]
	return v, ok
}

func (m *Map) Len() int { return len(m.Keys) }

// Clone returns a shallow copy.
func (m *Map) Clone() *Map {
	out := &Map{Keys: make([]string, len(m.Keys)), Entries: make(map[string]Value, len(m.Entries))}
	copy(out.Keys, m.Keys)
	for k, v := range m.Entries {
		out.Entries[k] = v
	}
	return out
}

func (v Value) AsBool() bool           { b, _ := v.Data.(bool); return b }
func (v Value) AsInt() int64           { n, _ := v.Data.(int64); return n }
func (v Value) AsString() string       { s, _ := v.Data.(string); return s }
func (v Value) AsList() []Value        { xs, _ := v.Data.([]Value); return xs }
func (v Value) AsMap() *Map            { m, _ := v.Data.(*Map); return m }
func (v Value) AsFunc() *Func          { f, _ := v.Data.(*Func); return f }
func (v Value) AsContext() ContextRef  { r, _ := v.Data.(ContextRef); return r }
func (v Value) IsNumeric() bool        { return v.Kind == KindInt || v.Kind == KindFloat }
func (v Value) IsVoid() bool           { return v.Kind == KindVoid }

// AsFloat widens Int to float64.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Data.(int64))
	case KindFloat:
		return v.Data.(float64)
	}
	return math.NaN()
}

// IsScalar reports numeric, string and bool values.
func (v Value) IsScalar() bool {
	switch v.Kind {
	case KindBool, KindInt, KindFloat, KindString:
		return true
	}
	return false
}

// Truthy applies the language's truthiness rules.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.AsInt() != 0
	case KindFloat:
		return v.AsFloat() != 0
	case KindString:
		return v.AsString() != ""
	case KindList:
		return len(v.AsList()) > 0
	case KindMap:
		return v.AsMap().Len() > 0
	case KindFunc, KindContext:
		return true
	}
	return false
}

// Size returns the abstract storage units the value occupies in a region.
func (v Value) Size() int {
	switch v.Kind {
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 8
	case KindString:
		return len(v.AsString())
	case KindList:
		n := 0
		for _, x := range v.AsList() {
			n += x.Size()
		}
		return n
	case KindMap:
		n := 0
		m := v.AsMap()
		for _, k := range m.Keys {
			n += len(k) + m.Entries[k].Size()
		}
		return n
	case KindFunc:
		return len(v.AsFunc().Name)
	case KindContext:
		return len(v.AsContext().Name)
	}
	return 0
}

// Equal compares structurally. Int and Float compare numerically.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.AsInt() == b.AsInt()
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindVoid:
		return true
	case KindBool:
		return a.AsBool() == b.AsBool()
	case KindString:
		return a.AsString() == b.AsString()
	case KindList:
		xs, ys := a.AsList(), b.AsList()
		if len(xs) != len(ys) {
			return false
		}
		for i := range xs {
			if !Equal(xs[i], ys[i]) {
				return false
			}
		}
		return true
	case KindMap:
		ma, mb := a.AsMap(), b.AsMap()
		if ma.Len() != mb.Len() {
			return false
		}
		for k, va := range ma.Entries {
			vb, ok := mb.Entries[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	case KindFunc:
		return a.AsFunc() == b.AsFunc()
	case KindContext:
		return a.AsContext().ID == b.AsContext().ID
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindVoid:
		return "void"
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case KindString:
		return v.AsString()
	case KindList:
		parts := make([]string, 0, len(v.AsList()))
		for _, x := range v.AsList() {
			parts = append(parts, x.quoted())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		m := v.AsMap()
		parts := make([]string, 0, m.Len())
		for _, k := range m.Keys {
			parts = append(parts, strconv.Quote(k)+": "+m.Entries[k].quoted())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindFunc:
		return fmt.Sprintf("<func %s>", v.AsFunc().Name)
	case KindContext:
		r := v.AsContext()
		if r.Name == "" {
			return fmt.Sprintf("<context #%d>", r.ID)
		}
		return fmt.Sprintf("<context %s>", r.Name)
	}
	return "<unknown>"
}

func (v Value) quoted() string {
	if v.Kind == KindString {
		return strconv.Quote(v.AsString())
	}
	return v.String()
}

// FromGo converts decoded YAML/JSON data into a Value.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Void, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []any:
		out := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Void, err
			}
			out = append(out, v)
		}
		return ListOf(out), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := FromGo(t[k])
			if err != nil {
				return Void, err
			}
			m.Set(k, v)
		}
		return MapOf(m), nil
	}
	return Void, fmt.Errorf("unsupported literal type %T", x)
}

// ToGo converts a Value into plain Go data suitable for JSON encoding.
func ToGo(v Value) any {
	switch v.Kind {
	case KindVoid:
		return nil
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.AsInt()
	case KindFloat:
		return v.AsFloat()
	case KindString:
		return v.AsString()
	case KindList:
		out := make([]any, 0, len(v.AsList()))
		for _, x := range v.AsList() {
			out = append(out, ToGo(x))
		}
		return out
	case KindMap:
		m := v.AsMap()
		out := make(map[string]any, m.Len())
		for _, k := range m.Keys {
			out[k] = ToGo(m.Entries[k])
		}
		return out
	}
	return v.String()
}
