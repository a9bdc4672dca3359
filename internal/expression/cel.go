package expression

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
)

type celEvaluator struct{}

// NewCELEvaluator returns an Evaluator backed by cel-go. Every field and fid
// is declared as a dyn variable.
func NewCELEvaluator() Evaluator { return celEvaluator{} }

func (celEvaluator) Name() string { return EngineCEL }

func (celEvaluator) Compile(expression string, fieldNames []string) (Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("cel: expression must not be empty")
	}
	opts := []celgo.EnvOption{
		celgo.CrossTypeNumericComparisons(true),
		celgo.Variable(FidVariable, celgo.IntType),
	}
	for _, name := range fieldNames {
		if name == FidVariable {
			continue
		}
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel: environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel: program %q: %w", expression, err)
	}
	return &celProgram{program: prg, expression: expression}, nil
}

type celProgram struct {
	program    celgo.Program
	expression string
}

func (p *celProgram) Match(env map[string]any) (bool, error) {
	out, _, err := p.program.Eval(env)
	if err != nil {
		return false, fmt.Errorf("cel: evaluate %q: %w", p.expression, err)
	}
	return asBool(EngineCEL, p.expression, out.Value())
}
