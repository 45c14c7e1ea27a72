// Package expression evaluates small expressions against a decoded payload.
// The sync adapter uses it for declarative load transforms configured in
// YAML, e.g. `filter(value, .state == "open")`.
//
// Three engines are available: expr (default), CEL, and JavaScript through
// goja when built with the js_eval tag.
package expression
