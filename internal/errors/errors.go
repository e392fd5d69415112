// Package errors provides error handling for ctxrt.
//
// This package re-exports github.com/cockroachdb/errors and declares the
// runtime's error taxonomy as sentinel values. Callers wrap a sentinel with
// context and classify with Is:
//
//	return errors.Wrapf(errors.ErrUnboundIdentifier, "%q", name)
//
//	if errors.Is(err, errors.ErrUnboundIdentifier) {
//	    // recoverable lookup failure
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	Unwrap       = crdb.Unwrap
	UnwrapOnce   = crdb.UnwrapOnce
	UnwrapAll    = crdb.UnwrapAll
	Mark         = crdb.Mark
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Context manager errors.
var (
	// ErrInvalidParent indicates a context was created under a destroyed parent.
	ErrInvalidParent = New("invalid parent context")

	// ErrCannotExitRoot indicates exit was called while the root was active.
	ErrCannotExitRoot = New("cannot exit root context")

	// ErrContextNotFound indicates no live context carries the requested name.
	ErrContextNotFound = New("context not found")

	// ErrUnboundIdentifier indicates a name is not bound on the ancestor chain.
	ErrUnboundIdentifier = New("unbound identifier")

	// ErrNothingRemembered indicates recall found no matching semantic memory.
	ErrNothingRemembered = New("nothing remembered")

	// ErrUndefinedAssignment indicates assignment to a name never declared.
	ErrUndefinedAssignment = New("assignment to undefined variable")
)

// Memory manager errors.
var (
	ErrOutOfBudget    = New("out of memory budget")
	ErrRegionFull     = New("region full")
	ErrKeyNotFound    = New("key not found")
	ErrRegionReleased = New("region released")
)

// Parallel executor errors.
var (
	ErrMissingEvaluator = New("best strategy requires an evaluator")
	ErrPathFailed       = New("path failed")
	ErrAllPathsFailed   = New("all paths failed")
	ErrInvalidState     = New("invalid execution state")
	ErrNoPaths          = New("parallel construct has no paths")
	ErrDuplicatePath    = New("duplicate path name")
	ErrUnknownStrategy  = New("unknown selection strategy")
)

// Interpreter errors.
var (
	ErrTypeMismatch   = New("type mismatch")
	ErrNotCallable    = New("value is not callable")
	ErrBadProgram     = New("malformed program")
	ErrDivisionByZero = New("division by zero")
)

// Snapshot store errors.
var (
	ErrSnapshotNotFound = New("snapshot not found")
	ErrAmbiguousID      = New("ambiguous snapshot id prefix")
)

// PathError records the failure of a single parallel path.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// AllPathsFailedError is returned when every path of a parallel episode failed.
type AllPathsFailedError struct {
	Failures []*PathError
}

func (e *AllPathsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%v: %s", ErrAllPathsFailed, strings.Join(parts, "; "))
}

func (e *AllPathsFailedError) Unwrap() error { return ErrAllPathsFailed }

// IsRecoverable reports whether err belongs to the lookup class that the
// language's own error handling may catch. Structural failures are not
// recoverable and abort the enclosing construct.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if IsAny(err, ErrContextNotFound, ErrUnboundIdentifier, ErrNothingRemembered, ErrKeyNotFound) {
		return true
	}
	// A per-path failure surfaced by "fastest" is recoverable unless the
	// underlying failure is structural.
	var pe *PathError
	if As(err, &pe) {
		return !IsStructural(pe.Err)
	}
	return false
}

// IsStructural reports whether err is a programmer or configuration error.
func IsStructural(err error) bool {
	return err != nil && IsAny(err,
		ErrInvalidParent, ErrCannotExitRoot, ErrOutOfBudget, ErrMissingEvaluator,
		ErrInvalidState, ErrNoPaths, ErrDuplicatePath, ErrUnknownStrategy, ErrBadProgram)
}
