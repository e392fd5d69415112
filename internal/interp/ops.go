package interp

import (
	"context"
	"math"
	"strings"

	"github.com/rcliao/ctxrt/internal/ast"
	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/value"
)

func (in *Interpreter) evalBinary(ctx context.Context, f *frame, n *ast.Node) (value.Value, error) {
	left, err := in.eval(ctx, f, n.Left)
	if err != nil {
		return value.Void, err
	}
	// and/or short-circuit.
	switch n.Op {
	case "and":
		if !left.Truthy() {
			return value.Bool(false), nil
		}
	case "or":
		if left.Truthy() {
			return value.Bool(true), nil
		}
	}
	right, err := in.eval(ctx, f, n.Right)
	if err != nil {
		return value.Void, err
	}
	return binary(n.Op, left, right)
}

func binary(op string, a, b value.Value) (value.Value, error) {
	switch op {
	case "and", "or":
		return value.Bool(b.Truthy()), nil
	case "==":
		return value.Bool(value.Equal(a, b)), nil
	case "!=":
		return value.Bool(!value.Equal(a, b)), nil
	case "<", "<=", ">", ">=":
		c, err := compare(a, b)
		if err != nil {
			return value.Void, err
		}
		switch op {
		case "<":
			return value.Bool(c < 0), nil
		case "<=":
			return value.Bool(c <= 0), nil
		case ">":
			return value.Bool(c > 0), nil
		}
		return value.Bool(c >= 0), nil
	case "+":
		switch {
		case a.Kind == value.KindString || b.Kind == value.KindString:
			return value.String(a.String() + b.String()), nil
		case a.Kind == value.KindList && b.Kind == value.KindList:
			out := make([]value.Value, 0, len(a.AsList())+len(b.AsList()))
			out = append(append(out, a.AsList()...), b.AsList()...)
			return value.ListOf(out), nil
		}
	}
	return arith(op, a, b)
}

func arith(op string, a, b value.Value) (value.Value, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "%s %s %s", a.Kind, op, b.Kind)
	}
	if a.Kind == value.KindInt && b.Kind == value.KindInt {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case "+":
			return value.Int(x + y), nil
		case "-":
			return value.Int(x - y), nil
		case "*":
			return value.Int(x * y), nil
		case "/", "%":
			if y == 0 {
				return value.Void, errors.Wrapf(errors.ErrDivisionByZero, "%d %s 0", x, op)
			}
			if op == "/" {
				return value.Int(x / y), nil
			}
			return value.Int(x % y), nil
		}
	}
	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case "+":
		return value.Float(x + y), nil
	case "-":
		return value.Float(x - y), nil
	case "*":
		return value.Float(x * y), nil
	case "/":
		return value.Float(x / y), nil
	case "%":
		return value.Float(math.Mod(x, y)), nil
	}
	return value.Void, errors.Wrapf(errors.ErrBadProgram, "unknown operator %q", op)
}

func compare(a, b value.Value) (int, error) {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.Kind == value.KindString && b.Kind == value.KindString:
		return strings.Compare(a.AsString(), b.AsString()), nil
	}
	return 0, errors.Wrapf(errors.ErrTypeMismatch, "cannot compare %s and %s", a.Kind, b.Kind)
}

func unary(op string, v value.Value) (value.Value, error) {
	switch op {
	case "not":
		return value.Bool(!v.Truthy()), nil
	case "-":
		switch v.Kind {
		case value.KindInt:
			return value.Int(-v.AsInt()), nil
		case value.KindFloat:
			return value.Float(-v.AsFloat()), nil
		}
		return value.Void, errors.Wrapf(errors.ErrTypeMismatch, "-%s", v.Kind)
	}
	return value.Void, errors.Wrapf(errors.ErrBadProgram, "unknown operator %q", op)
}
