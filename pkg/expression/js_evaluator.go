//go:build js_eval

package expression

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache     ProgramCache
	functions *Functions
}

// NewJSEvaluator constructs an Evaluator backed by goja. Each evaluation runs
// in a fresh runtime.
func NewJSEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &jsEvaluator{cache: cfg.Cache, functions: cfg.Functions}
}

func (e *jsEvaluator) Engine() string { return EngineJS }

func (e *jsEvaluator) Evaluate(ctx Context, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, err)
	}
	vm := goja.New()
	e.inject(vm, ctx)
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, err)
	}
	return value.Export(), nil
}

func (e *jsEvaluator) loadOrCompile(expression string) (*goja.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(EngineJS + ":" + expression); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", fmt.Sprintf("(function(){ return (%s); })()", expression), false)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(EngineJS+":"+expression, program)
	}
	return program, nil
}

func (e *jsEvaluator) inject(vm *goja.Runtime, ctx Context) {
	for key, value := range ctx.bindings() {
		_ = vm.Set(key, value)
	}
	for _, name := range e.functions.Names() {
		fn := name
		_ = vm.Set(fn, func(arguments ...any) (any, error) {
			return e.functions.Invoke(fn, arguments...)
		})
	}
}
