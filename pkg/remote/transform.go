package remote

import (
	"context"
	"log/slog"

	"github.com/goliatone/go-synced/internal/hydrate"
	"github.com/goliatone/go-synced/pkg/expression"
)

// Transform is one pure stage of a load pipeline.
type Transform[In, Out any] func(In) (Out, error)

// Identity returns its input unchanged.
func Identity[T any]() Transform[T, T] {
	return func(v T) (T, error) { return v, nil }
}

// Compose runs f then g.
func Compose[A, B, C any](f Transform[A, B], g Transform[B, C]) Transform[A, C] {
	return func(a A) (C, error) {
		b, err := f(a)
		if err != nil {
			var zero C
			return zero, err
		}
		return g(b)
	}
}

// Chain composes same-typed stages left to right. Nil stages are skipped.
func Chain[T any](stages ...Transform[T, T]) Transform[T, T] {
	kept := make([]Transform[T, T], 0, len(stages))
	for _, stage := range stages {
		if stage != nil {
			kept = append(kept, stage)
		}
	}
	return func(v T) (T, error) {
		var err error
		for _, stage := range kept {
			if v, err = stage(v); err != nil {
				return v, err
			}
		}
		return v, nil
	}
}

// Each lifts an element transform over a slice.
func Each[In, Out any](t Transform[In, Out]) Transform[[]In, []Out] {
	return func(items []In) ([]Out, error) {
		out := make([]Out, 0, len(items))
		for _, item := range items {
			v, err := t(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
}

// Projection wraps Project as a pipeline stage.
func Projection(paths []string) Transform[any, any] {
	return func(v any) (any, error) { return Project(v, paths), nil }
}

// Decode converts a decoded JSON tree into R using struct tags on R.
func Decode[R any](ctx hydrate.Context, opts ...hydrate.DecoderOption[R]) Transform[any, R] {
	decoder := hydrate.NewDecoder(opts...)
	return func(v any) (R, error) {
		return decoder.Decode(ctx, v)
	}
}

// ExpressionTransform evaluates expr with the payload bound as `value` and
// returns the result as the next payload. vars are bound by name.
func ExpressionTransform(eval expression.Evaluator, expr string, vars map[string]any) Transform[any, any] {
	return func(v any) (any, error) {
		return eval.Evaluate(expression.Context{Value: v, Vars: vars}, expr)
	}
}

// Logged wraps t and logs failures at debug level with the stage name.
func Logged[In, Out any](logger *slog.Logger, stage string, t Transform[In, Out]) Transform[In, Out] {
	return func(v In) (Out, error) {
		out, err := t(v)
		if err != nil && logger != nil {
			logger.Log(context.Background(), slog.LevelDebug, "transform failed", "stage", stage, "error", err)
		}
		return out, err
	}
}
