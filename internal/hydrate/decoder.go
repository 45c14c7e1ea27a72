// Package hydrate converts loosely typed payloads (decoded JSON trees, as
// produced by projection and expression stages) into typed records.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context identifies the payload being decoded in error messages.
type Context struct {
	Resource string
	URL      string
}

func (c Context) label() string {
	if c.Resource != "" {
		return c.Resource
	}
	if c.URL != "" {
		return c.URL
	}
	return "payload"
}

// PreHook lets callers reshape the payload before decoding.
type PreHook func(Context, any) (any, error)

// PostHook lets callers adjust or validate the record after decoding.
type PostHook[T any] func(Context, *T) error

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts payloads into T by re-encoding them as JSON, so struct
// tags on T drive field mapping exactly as they would for a raw response.
type Decoder[T any] struct {
	preHooks     []PreHook
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.preHooks = append(d.preHooks, hook)
		}
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.postHooks = append(d.postHooks, hook)
		}
	}
}

// WithUseNumber enables json.Decoder.UseNumber during decoding.
func WithUseNumber[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.UseNumber()
		})
	}
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.DisallowUnknownFields()
		})
	}
}

// NewDecoder constructs a Decoder for T.
func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T applying configured hooks. A T that is
// itself a loosely typed tree (any, map[string]any) is returned as decoded
// JSON, which also detaches it from the caller's payload.
func (d *Decoder[T]) Decode(ctx Context, payload any) (T, error) {
	var zero T

	current := payload
	for _, hook := range d.preHooks {
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for %s failed: %w", ctx.label(), err)
		}
		if next != nil {
			current = next
		}
	}

	buffer, err := json.Marshal(current)
	if err != nil {
		return zero, fmt.Errorf("hydrate: marshal %s: %w", ctx.label(), err)
	}
	decoder := json.NewDecoder(bytes.NewReader(buffer))
	for _, configure := range d.configureDec {
		configure(decoder)
	}
	var result T
	if err := decoder.Decode(&result); err != nil {
		return zero, fmt.Errorf("hydrate: decode %s: %w", ctx.label(), err)
	}

	for _, hook := range d.postHooks {
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for %s failed: %w", ctx.label(), err)
		}
	}

	return result, nil
}
