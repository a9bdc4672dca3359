// Package expression evaluates feature filter expressions.
//
// A filter expression is a boolean expression over a feature's attributes,
// referenced by field name, plus the feature id bound as "fid":
//
//	lanes >= 2 && name != "Dock"
//
// Two engines are available: expr-lang (the default) and CEL. Both compile
// an expression once per iterator and evaluate it per candidate feature.
// A runtime evaluation error (for example comparing a null attribute with a
// number) is reported to the caller, which treats it as a non-match.
package expression

import (
	"fmt"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

// FidVariable is the name the feature id is bound to.
const FidVariable = "fid"

// Engine names.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

// Evaluator compiles filter expressions.
type Evaluator interface {
	// Name returns the engine name.
	Name() string
	// Compile compiles expression for features with the given field names.
	Compile(expression string, fieldNames []string) (Program, error)
}

// Program is a compiled filter expression.
type Program interface {
	// Match evaluates the program against env. A non-boolean result is an
	// error.
	Match(env map[string]any) (bool, error)
}

// New returns the evaluator for engine. An empty name selects expr.
func New(engine string) (Evaluator, error) {
	switch engine {
	case "", EngineExpr:
		return NewExprEvaluator(), nil
	case EngineCEL:
		return NewCELEvaluator(), nil
	default:
		return nil, fmt.Errorf("unknown expression engine %q", engine)
	}
}

// Env binds f's attributes by field name, and its id as FidVariable.
func Env(fields schema.Fields, f *feature.Feature) map[string]any {
	env := make(map[string]any, len(fields)+1)
	for i, field := range fields {
		env[field.Name] = f.Attribute(i)
	}
	env[FidVariable] = f.ID()
	return env
}

func asBool(engine, expression string, result any) (bool, error) {
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expression %q returned %T, want bool", engine, expression, result)
	}
	return b, nil
}
