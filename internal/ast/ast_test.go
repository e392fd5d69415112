package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ctxrt/internal/errors"
)

const parallelDoc = `
kind: program
body:
  - kind: let
    name: r
    expr:
      kind: parallel
      strategy: best
      evaluator: {kind: lambda, params: [v], body: [{kind: return, expr: {kind: ident, name: v}}]}
      paths:
        - {kind: path, name: p1, body: [{kind: return, expr: {kind: literal, value: 10}}]}
        - {kind: path, name: p2, body: [{kind: return, expr: {kind: literal, value: 20}}]}
`

func TestParseYAML(t *testing.T) {
	n, err := Parse([]byte(parallelDoc))
	require.NoError(t, err)
	require.Len(t, n.Body, 1)

	p := n.Body[0].Expr
	assert.Equal(t, Parallel, p.Kind)
	assert.Equal(t, "best", p.Strategy)
	require.Len(t, p.Paths, 2)
	assert.Equal(t, "p2", p.Paths[1].Name)
	assert.Equal(t, 20, p.Paths[1].Body[0].Expr.Value)
}

func TestParseJSON(t *testing.T) {
	n, err := Parse([]byte(`{"body": [{"kind": "remember", "key": "k", "expr": {"kind": "literal", "value": "v"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, Program, n.Kind, "kind defaults to program")
	assert.Equal(t, "k", n.Body[0].Key)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown kind", `{kind: program, body: [{kind: goto}]}`, errors.ErrBadProgram},
		{"let without name", `{kind: let, expr: {kind: literal, value: 1}}`, errors.ErrBadProgram},
		{"let without expr", `{kind: let, name: x}`, errors.ErrBadProgram},
		{"bad operator", `{kind: binary, op: "**", left: {kind: literal}, right: {kind: literal}}`, errors.ErrBadProgram},
		{"no paths", `{kind: parallel, strategy: all}`, errors.ErrNoPaths},
		{"best without evaluator", `{kind: parallel, strategy: best, paths: [{kind: path, name: a}]}`, errors.ErrMissingEvaluator},
		{"unknown strategy", `{kind: parallel, strategy: slowest, paths: [{kind: path, name: a}]}`, errors.ErrUnknownStrategy},
		{"within without name", `{kind: within, body: []}`, errors.ErrBadProgram},
		{"not yaml", "kind: [", errors.ErrBadProgram},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(t.TempDir() + "/nope.yaml")
	assert.Error(t, err)
}
