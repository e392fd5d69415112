// Package ast defines the program tree the interpreter evaluates and decodes
// it from YAML or JSON documents.
package ast

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/ctxrt/internal/errors"
)

// Kind names a node type.
type Kind string

const (
	Program  Kind = "program"
	Block    Kind = "block"
	Let      Kind = "let"
	Assign   Kind = "assign"
	Ident    Kind = "ident"
	Literal  Kind = "literal"
	List     Kind = "list"
	Map      Kind = "map"
	Binary   Kind = "binary"
	Unary    Kind = "unary"
	Call     Kind = "call"
	Lambda   Kind = "lambda"
	Return   Kind = "return"
	With     Kind = "with"
	Within   Kind = "within"
	Remember Kind = "remember"
	Recall   Kind = "recall"
	Parallel Kind = "parallel"
	PathNode Kind = "path"
	Try      Kind = "try"
	If       Kind = "if"
)

// Node is one statement or expression. Which fields are meaningful depends
// on Kind; Validate enforces the required ones.
type Node struct {
	Kind Kind   `yaml:"kind" json:"kind"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`
	Op   string `yaml:"op,omitempty" json:"op,omitempty"`

	// Value is a literal's payload as decoded from the document.
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	Expr   *Node    `yaml:"expr,omitempty" json:"expr,omitempty"`
	Left   *Node    `yaml:"left,omitempty" json:"left,omitempty"`
	Right  *Node    `yaml:"right,omitempty" json:"right,omitempty"`
	Cond   *Node    `yaml:"cond,omitempty" json:"cond,omitempty"`
	Callee *Node    `yaml:"callee,omitempty" json:"callee,omitempty"`
	Args   []*Node  `yaml:"args,omitempty" json:"args,omitempty"`
	Params []string `yaml:"params,omitempty" json:"params,omitempty"`
	Items  []*Node  `yaml:"items,omitempty" json:"items,omitempty"`
	Fields []Field  `yaml:"fields,omitempty" json:"fields,omitempty"`
	Body   []*Node  `yaml:"body,omitempty" json:"body,omitempty"`
	Else   []*Node  `yaml:"else,omitempty" json:"else,omitempty"`

	// parallel
	Paths     []*Node `yaml:"paths,omitempty" json:"paths,omitempty"`
	Strategy  string  `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Evaluator *Node   `yaml:"evaluator,omitempty" json:"evaluator,omitempty"`

	// try
	As    string  `yaml:"as,omitempty" json:"as,omitempty"`
	Catch []*Node `yaml:"catch,omitempty" json:"catch,omitempty"`
}

// Field is one key of a map literal.
type Field struct {
	Key   string `yaml:"key" json:"key"`
	Value *Node  `yaml:"value" json:"value"`
}

// Parse decodes a document into a validated tree. JSON documents are
// accepted since JSON is a subset of YAML.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, errors.Wrapf(errors.ErrBadProgram, "decode: %v", err)
	}
	if n.Kind == "" && len(n.Body) > 0 {
		n.Kind = Program
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseFile reads and parses path.
func ParseFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read program %s", path)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return n, nil
}

var binaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"and": true, "or": true,
}

func bad(n *Node, format string, args ...any) error {
	return errors.Wrapf(errors.ErrBadProgram, "%s: "+format, append([]any{n.Kind}, args...)...)
}

// Validate checks required fields recursively.
func (n *Node) Validate() error {
	if n == nil {
		return errors.Wrap(errors.ErrBadProgram, "missing node")
	}
	switch n.Kind {
	case Program, Block:
		return validateAll(n.Body)
	case Let, Assign:
		if n.Name == "" {
			return bad(n, "name is required")
		}
		return n.Expr.Validate()
	case Ident:
		if n.Name == "" {
			return bad(n, "name is required")
		}
	case Literal:
	case List:
		return validateAll(n.Items)
	case Map:
		for _, f := range n.Fields {
			if err := f.Value.Validate(); err != nil {
				return errors.Wrapf(err, "field %q", f.Key)
			}
		}
	case Binary:
		if !binaryOps[n.Op] {
			return bad(n, "unknown operator %q", n.Op)
		}
		if err := n.Left.Validate(); err != nil {
			return err
		}
		return n.Right.Validate()
	case Unary:
		if n.Op != "-" && n.Op != "not" {
			return bad(n, "unknown operator %q", n.Op)
		}
		return n.Expr.Validate()
	case Call:
		if n.Callee == nil && n.Name == "" {
			return bad(n, "callee or name is required")
		}
		if n.Callee != nil {
			if err := n.Callee.Validate(); err != nil {
				return err
			}
		}
		return validateAll(n.Args)
	case Lambda:
		return validateAll(n.Body)
	case Return:
		if n.Expr != nil {
			return n.Expr.Validate()
		}
	case With:
		return validateAll(n.Body)
	case Within:
		if n.Name == "" {
			return bad(n, "name is required")
		}
		return validateAll(n.Body)
	case Remember:
		return n.Expr.Validate()
	case Recall:
	case Parallel:
		return n.validateParallel()
	case PathNode:
		if n.Name == "" {
			return bad(n, "name is required")
		}
		return validateAll(n.Body)
	case Try:
		if err := validateAll(n.Body); err != nil {
			return err
		}
		return validateAll(n.Catch)
	case If:
		if err := n.Cond.Validate(); err != nil {
			return err
		}
		if err := validateAll(n.Body); err != nil {
			return err
		}
		return validateAll(n.Else)
	default:
		return errors.Wrapf(errors.ErrBadProgram, "unknown node kind %q", n.Kind)
	}
	return nil
}

func (n *Node) validateParallel() error {
	if len(n.Paths) == 0 {
		return errors.WithStack(errors.ErrNoPaths)
	}
	for _, p := range n.Paths {
		if p == nil || p.Kind != PathNode {
			return bad(n, "paths must be of kind %q", PathNode)
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	switch n.Strategy {
	case "fastest", "all":
	case "best":
		if n.Evaluator == nil {
			return errors.WithStack(errors.ErrMissingEvaluator)
		}
	default:
		return errors.Wrapf(errors.ErrUnknownStrategy, "%q", n.Strategy)
	}
	if n.Evaluator != nil {
		return n.Evaluator.Validate()
	}
	return nil
}

func validateAll(nodes []*Node) error {
	for _, c := range nodes {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
