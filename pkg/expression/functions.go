package expression

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// Func is a helper callable from a load transform.
type Func func(args ...any) (any, error)

var (
	// ErrFunctionExists is returned when a name is defined twice.
	ErrFunctionExists = errors.New("expression: function already defined")
	// ErrUnknownFunction is returned when invoking an undefined name.
	ErrUnknownFunction = errors.New("expression: unknown function")
)

// Functions is a set of named helpers exposed to every engine. Names are
// case sensitive identifiers. Reads never lock; Define publishes a new table.
type Functions struct {
	mu    sync.Mutex
	table atomic.Pointer[map[string]Func]
}

// NewFunctions returns an empty set.
func NewFunctions() *Functions {
	f := &Functions{}
	f.table.Store(&map[string]Func{})
	return f
}

// Builtins returns a set holding the helpers payload transforms lean on:
// pluck(list, field), slug(s) and compact(list).
func Builtins() *Functions {
	f := NewFunctions()
	_ = f.Define("pluck", pluck)
	_ = f.Define("slug", slug)
	_ = f.Define("compact", compact)
	return f
}

// Define adds fn under name.
func (f *Functions) Define(name string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("expression: function %q is nil", name)
	}
	if !isIdent(name) {
		return fmt.Errorf("expression: invalid function name %q", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.load()
	if _, ok := current[name]; ok {
		return fmt.Errorf("%w: %s", ErrFunctionExists, name)
	}
	next := maps.Clone(current)
	if next == nil {
		next = map[string]Func{}
	}
	next[name] = fn
	f.table.Store(&next)
	return nil
}

// Invoke runs the helper bound to name.
func (f *Functions) Invoke(name string, args ...any) (any, error) {
	fn, ok := f.load()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(args...)
}

// Names lists the defined helpers in sorted order.
func (f *Functions) Names() []string {
	return slices.Sorted(maps.Keys(f.load()))
}

// frozen returns a set sharing the current table. Later Define calls on f
// do not reach evaluators already built from it.
func (f *Functions) frozen() *Functions {
	if f == nil {
		return nil
	}
	out := &Functions{}
	table := f.load()
	out.table.Store(&table)
	return out
}

func (f *Functions) load() map[string]Func {
	if f == nil {
		return nil
	}
	if table := f.table.Load(); table != nil {
		return *table
	}
	return nil
}

func isIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func pluck(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("pluck: want (list, field), got %d args", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("pluck: first argument is %T, not a list", args[0])
	}
	field, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("pluck: field must be a string")
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj[field])
		}
	}
	return out, nil
}

// slug lower-cases s and joins its words with dashes.
func slug(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("slug: want 1 arg, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("slug: argument is %T, not a string", args[0])
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), "-"), nil
}

// compact drops nil entries.
func compact(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("compact: want 1 arg, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("compact: argument is %T, not a list", args[0])
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}
