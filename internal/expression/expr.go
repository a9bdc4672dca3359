package expression

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

type exprEvaluator struct{}

// NewExprEvaluator returns an Evaluator backed by expr-lang/expr.
func NewExprEvaluator() Evaluator { return exprEvaluator{} }

func (exprEvaluator) Name() string { return EngineExpr }

// Compile ignores fieldNames: undefined variables evaluate to nil, matching
// how a null attribute behaves.
func (exprEvaluator) Compile(expression string, _ []string) (Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expr: expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", expression, err)
	}
	return &exprProgram{program: program, expression: expression}, nil
}

type exprProgram struct {
	program    *exprvm.Program
	expression string
}

func (p *exprProgram) Match(env map[string]any) (bool, error) {
	result, err := exprlang.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("expr: evaluate %q: %w", p.expression, err)
	}
	return asBool(EngineExpr, p.expression, result)
}
