//go:build !js_eval

package expression

// NewJSEvaluator is unavailable without the js_eval build tag.
func NewJSEvaluator(opts ...Option) Evaluator {
	_ = applyOptions(opts)
	return nil
}
