package expression

import (
	"fmt"
	"reflect"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

type celEvaluator struct {
	cache     ProgramCache
	functions *Functions
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Registry
// functions are exposed with one to three dynamic arguments.
func NewCELEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &celEvaluator{cache: cfg.Cache, functions: cfg.Functions}
}

func (e *celEvaluator) Engine() string { return EngineCEL }

func (e *celEvaluator) Evaluate(ctx Context, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	ctx = ctx.withDefaults()
	program, err := e.loadOrCompile(expression, ctx.varNames())
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	out, _, err := program.Eval(ctx.bindings())
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	native, err := celNative(out)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	return native, nil
}

func (e *celEvaluator) loadOrCompile(expression string, vars []string) (celgo.Program, error) {
	// the environment depends on the bound variable names
	key := EngineCEL + ":" + strings.Join(vars, ",") + ":" + expression
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(vars)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *celEvaluator) buildEnv(vars []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("value", celgo.DynType),
		celgo.Variable("now", celgo.TimestampType),
	}
	for _, name := range vars {
		if name == "value" || name == "now" {
			continue
		}
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	for _, name := range e.functions.Names() {
		opts = append(opts, e.functionDecl(name))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) functionDecl(name string) celgo.EnvOption {
	overloads := make([]celgo.FunctionOpt, 0, 3)
	for arity := 1; arity <= 3; arity++ {
		args := make([]*celgo.Type, arity)
		for i := range args {
			args[i] = celgo.DynType
		}
		overloads = append(overloads, celgo.Overload(
			fmt.Sprintf("%s_dyn_%d", name, arity),
			args,
			celgo.DynType,
			celgo.FunctionBinding(e.binding(name)),
		))
	}
	return celgo.Function(name, overloads...)
}

func (e *celEvaluator) binding(name string) func(values ...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		args := make([]any, 0, len(values))
		for _, val := range values {
			native, err := celNative(val)
			if err != nil {
				return types.NewErr("expression: %v", err)
			}
			args = append(args, native)
		}
		result, err := e.functions.Invoke(name, args...)
		if err != nil {
			return types.NewErr("expression: %v", err)
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}

var (
	anySliceType = reflect.TypeOf([]any(nil))
	anyMapType   = reflect.TypeOf(map[string]any(nil))
)

// celNative converts CEL results back into plain Go trees so later pipeline
// stages see the same shapes as decoded JSON.
func celNative(val ref.Val) (any, error) {
	switch val.Type() {
	case types.ListType:
		return val.ConvertToNative(anySliceType)
	case types.MapType:
		return val.ConvertToNative(anyMapType)
	case types.NullType:
		return nil, nil
	default:
		return val.Value(), nil
	}
}
