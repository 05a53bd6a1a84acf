// Package eventfilter admits or skips storage events using CEL expressions,
// e.g. `container == "video" && !basename.startsWith("tmp_")`.
package eventfilter

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/minutes/common/apperrors"
)

// Input is the set of variables visible to an expression.
type Input struct {
	Container   string
	Name        string
	EventType   string
	Subject     string
	ContentType string
	Size        int64
}

func (in Input) activation() map[string]any {
	return map[string]any{
		"container":    in.Container,
		"name":         in.Name,
		"basename":     path.Base(in.Name),
		"event_type":   in.EventType,
		"subject":      in.Subject,
		"content_type": in.ContentType,
		"size":         in.Size,
	}
}

// Filter is a compiled admission rule. The zero expression admits everything.
type Filter struct {
	expr    string
	program cel.Program
}

// New compiles expr. An empty expression yields a filter that admits every event.
func New(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("container", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("basename", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "eventfilter", "compile", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "eventfilter", "compile",
			fmt.Sprintf("%q must evaluate to bool, got %s", expr, ast.OutputType()), nil)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &Filter{expr: expr, program: prg}, nil
}

// MustNew is New for expressions known at compile time.
func MustNew(expr string) *Filter {
	f, err := New(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Expression returns the source expression.
func (f *Filter) Expression() string { return f.expr }

// Admit evaluates the filter for one event.
func (f *Filter) Admit(in Input) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	out, _, err := f.program.Eval(in.activation())
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}
