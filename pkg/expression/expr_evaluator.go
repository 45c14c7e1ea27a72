package expression

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

type exprEvaluator struct {
	cache     ProgramCache
	functions *Functions
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &exprEvaluator{cache: cfg.Cache, functions: cfg.Functions}
}

func (e *exprEvaluator) Engine() string { return EngineExpr }

func (e *exprEvaluator) Evaluate(ctx Context, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	result, err := exprlang.Run(program, ctx.bindings())
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, expression, err)
	}
	return result, nil
}

func (e *exprEvaluator) loadOrCompile(expression string) (*exprvm.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(EngineExpr + ":" + expression); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.functions.Names() {
		fn := name
		options = append(options, exprlang.Function(fn, func(arguments ...any) (any, error) {
			return e.functions.Invoke(fn, arguments...)
		}))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(EngineExpr+":"+expression, program)
	}
	return program, nil
}
