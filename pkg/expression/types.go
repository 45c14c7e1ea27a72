package expression

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Engine names accepted by New.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// Context carries the inputs of one evaluation. Value is bound as `value`,
// every entry of Vars is bound under its own name, and Now as `now`.
type Context struct {
	Value any
	Vars  map[string]any
	Now   *time.Time
}

func (ctx Context) withDefaults() Context {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Vars == nil {
		ctx.Vars = map[string]any{}
	}
	return ctx
}

func (ctx Context) bindings() map[string]any {
	ctx = ctx.withDefaults()
	env := make(map[string]any, len(ctx.Vars)+2)
	for key, value := range ctx.Vars {
		env[key] = value
	}
	env["value"] = ctx.Value
	env["now"] = *ctx.Now
	return env
}

func (ctx Context) varNames() []string {
	names := make([]string, 0, len(ctx.Vars))
	for key := range ctx.Vars {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// Evaluator executes expressions against a Context.
type Evaluator interface {
	Engine() string
	Evaluate(ctx Context, expr string) (any, error)
}

// ProgramCache stores compiled programs keyed by expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapCache is an unbounded ProgramCache. Configured transforms are a fixed
// set so growth is bounded by configuration.
type MapCache struct {
	programs sync.Map
}

// NewMapCache constructs an empty MapCache.
func NewMapCache() *MapCache { return &MapCache{} }

func (c *MapCache) Get(key string) (any, bool) { return c.programs.Load(key) }
func (c *MapCache) Set(key string, value any)  { c.programs.Store(key, value) }

// Options configure any evaluator.
type Options struct {
	Cache     ProgramCache
	Functions *Functions
}

// Option mutates Options.
type Option func(*Options)

// WithProgramCache wires a ProgramCache into the evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(o *Options) { o.Cache = cache }
}

// WithFunctions exposes fns to expressions. The evaluator sees the set as
// it was when the option was applied.
func WithFunctions(fns *Functions) Option {
	return func(o *Options) { o.Functions = fns.frozen() }
}

func applyOptions(opts []Option) Options {
	cfg := Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// New returns the evaluator for engine. The empty string selects expr.
func New(engine string, opts ...Option) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		if e := NewJSEvaluator(opts...); e != nil {
			return e, nil
		}
		return nil, fmt.Errorf("expression: js engine requires the js_eval build tag")
	default:
		return nil, fmt.Errorf("expression: unknown engine %q", engine)
	}
}
