package parallel

import (
	"strings"

	"github.com/rcliao/ctxrt/internal/errors"
)

// Strategy reduces the results of several paths to one value.
type Strategy int

const (
	Fastest Strategy = iota // first recorded result wins
	Best                    // highest evaluator score wins
	All                     // every successful result is merged
)

func (s Strategy) String() string {
	switch s {
	case Fastest:
		return "fastest"
	case Best:
		return "best"
	case All:
		return "all"
	}
	return "unknown"
}

// ParseStrategy maps a select clause keyword to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fastest":
		return Fastest, nil
	case "best":
		return Best, nil
	case "all":
		return All, nil
	}
	return 0, errors.Wrapf(errors.ErrUnknownStrategy, "%q", s)
}

// Status is an execution's position in Pending → Running → Completed|Failed.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == Completed || s == Failed }
