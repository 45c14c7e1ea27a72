package synced

import (
	"context"

	"github.com/goliatone/go-synced/pkg/remote"
)

// Waiter blocks until a precondition holds or ctx is done.
type Waiter func(ctx context.Context) error

// When returns a Waiter for ready(obs.Get()).
func When[T any](obs Observable[T], ready func(T) bool) Waiter {
	return func(ctx context.Context) error {
		_, err := WaitFor(ctx, obs, ready)
		return err
	}
}

// WhenSet returns a Waiter that is satisfied once obs holds a non-empty
// string, typically an auth token.
func WhenSet(obs Observable[string]) Waiter {
	return When(obs, nonEmpty)
}

func nonEmpty(s string) bool { return s != "" }

// TokenFrom exposes a token node as a remote.TokenSource that blocks until
// the token is set.
func TokenFrom(obs Observable[string]) remote.TokenSource {
	return remote.TokenFunc(func(ctx context.Context) (string, error) {
		return WaitFor(ctx, obs, nonEmpty)
	})
}
