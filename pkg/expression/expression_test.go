package expression

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
)

func issuesPayload() []any {
	return []any{
		map[string]any{"number": 1, "state": "open", "title": "crash"},
		map[string]any{"number": 2, "state": "closed", "title": "typo"},
		map[string]any{"number": 3, "state": "open", "title": "slow"},
	}
}

func TestExprFiltersPayload(t *testing.T) {
	eval := NewExprEvaluator(WithProgramCache(NewMapCache()))
	got, err := eval.Evaluate(Context{Value: issuesPayload()}, `filter(value, .state == "open")`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	items, ok := got.([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two open issues, got %#v", got)
	}
}

func TestExprUsesVarsAndFunctions(t *testing.T) {
	fns := NewFunctions()
	if err := fns.Define("slug", func(args ...any) (any, error) {
		return strings.ToLower(strings.ReplaceAll(args[0].(string), " ", "-")), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	eval := NewExprEvaluator(WithFunctions(fns))
	got, err := eval.Evaluate(Context{
		Value: map[string]any{"title": "Hello World"},
		Vars:  map[string]any{"repo": "acme/app"},
	}, `repo + "#" + slug(value.title)`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "acme/app#hello-world" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestCELMapsPayload(t *testing.T) {
	eval := NewCELEvaluator(WithProgramCache(NewMapCache()))
	got, err := eval.Evaluate(Context{Value: issuesPayload()}, `value.filter(i, i.state == "open").map(i, i.title)`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []any{"crash", "slow"}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected %v, got %#v", want, got)
	}
}

func TestCELRegistryFunction(t *testing.T) {
	fns := NewFunctions()
	_ = fns.Define("shout", func(args ...any) (any, error) {
		return strings.ToUpper(args[0].(string)) + "!", nil
	})
	eval := NewCELEvaluator(WithFunctions(fns))
	got, err := eval.Evaluate(Context{Value: map[string]any{"title": "done"}}, `shout(value.title)`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "DONE!" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestEvaluationErrorsAreWrapped(t *testing.T) {
	eval := NewExprEvaluator()
	_, err := eval.Evaluate(Context{}, `value +`)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != EngineExpr || evalErr.Expr != "value +" {
		t.Fatalf("expected EvaluationError, got %v", err)
	}

	if _, err := eval.Evaluate(Context{}, ""); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
}

func TestNewSelectsEngine(t *testing.T) {
	for engine, want := range map[string]string{"": EngineExpr, "expr": EngineExpr, "CEL": EngineCEL} {
		eval, err := New(engine)
		if err != nil {
			t.Fatalf("new %q: %v", engine, err)
		}
		if eval.Engine() != want {
			t.Fatalf("new %q: got engine %s", engine, eval.Engine())
		}
	}
	if _, err := New("lua"); err == nil {
		t.Fatalf("expected unknown engine error")
	}
}

func TestFunctionsDefineAndInvoke(t *testing.T) {
	fns := NewFunctions()
	fn := func(...any) (any, error) { return "ok", nil }
	if err := fns.Define("pick", fn); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := fns.Define("pick", fn); !errors.Is(err, ErrFunctionExists) {
		t.Fatalf("expected ErrFunctionExists, got %v", err)
	}
	if err := fns.Define("Pick", fn); err != nil {
		t.Fatalf("names are case sensitive: %v", err)
	}
	if err := fns.Define("2fast", fn); err == nil {
		t.Fatalf("expected invalid name to be rejected")
	}
	if names := fns.Names(); !slices.Equal(names, []string{"Pick", "pick"}) {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := fns.Invoke("missing"); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestEvaluatorKeepsFunctionsFromBuildTime(t *testing.T) {
	fns := NewFunctions()
	eval := NewExprEvaluator(WithFunctions(fns))
	_ = fns.Define("late", func(...any) (any, error) { return 1, nil })
	if _, err := eval.Evaluate(Context{}, `late()`); err == nil {
		t.Fatalf("expected a function defined after build to be invisible")
	}
}

func TestBuiltinsPluckAndCompact(t *testing.T) {
	eval := NewExprEvaluator(WithFunctions(Builtins()))
	got, err := eval.Evaluate(Context{
		Value: []any{
			map[string]any{"login": "octo"},
			map[string]any{"id": 2},
			map[string]any{"login": "hub"},
		},
	}, `compact(pluck(value, "login"))`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !reflect.DeepEqual(got, []any{"octo", "hub"}) {
		t.Fatalf("unexpected result %#v", got)
	}
}
