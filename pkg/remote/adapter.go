package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goliatone/go-synced/internal/hydrate"
)

// TokenSource supplies the auth token. Token blocks until a non-empty
// token is available or ctx is done.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that is always ready. An empty StaticToken
// never becomes ready.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t != "" {
		return string(t), nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Adapter binds resources to a base URL, a Client and a TokenSource.
type Adapter struct {
	Client  Client
	BaseURL string
	Token   TokenSource
	Logger  *slog.Logger
	// SetMethod is the verb used by SetFunc. Defaults to PATCH.
	SetMethod string
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.Logger.With("component", "remote")
}

// token resolves the auth token for res. Public resources still forward a
// token when one is immediately available.
func (a *Adapter) token(ctx context.Context, name string, requireAuth bool) (string, error) {
	if a.Token == nil {
		if requireAuth {
			return "", fmt.Errorf("%w: %s: no token source", ErrAuthNotReady, name)
		}
		return "", nil
	}
	if !requireAuth {
		probe, cancel := context.WithCancel(ctx)
		cancel()
		token, _ := a.Token.Token(probe)
		return token, nil
	}
	token, err := a.Token.Token(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s: %w", ErrAuthNotReady, name, err)
		}
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrAuthNotReady, name)
	}
	return token, nil
}

func (a *Adapter) fetch(ctx context.Context, name, rawURL string, requireAuth bool) (any, error) {
	if a.Client == nil {
		return nil, fmt.Errorf("%w: %s: no client", ErrInvalidResource, name)
	}
	token, err := a.token(ctx, name, requireAuth)
	if err != nil {
		return nil, err
	}
	a.logger().Debug("fetching resource", "resource", name, "url", rawURL)
	data, err := a.Client.FetchJSON(ctx, rawURL, token)
	if err != nil {
		return nil, err
	}
	var payload any
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %w", ErrFetchFailed, name, err)
	}
	return payload, nil
}

// GetFunc returns the single-record fetch for res.
func GetFunc[R any](a *Adapter, res *Resource[R]) func(context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		var zero R
		if err := res.Validate(); err != nil {
			return zero, err
		}
		rawURL, err := res.URL(a.BaseURL)
		if err != nil {
			return zero, err
		}
		payload, err := a.fetch(ctx, res.Name, rawURL, res.RequireAuth)
		if err != nil {
			return zero, err
		}
		return res.Load(rawURL, payload)
	}
}

// ListFunc returns the collection fetch for res. Items are returned in
// response order; key them with FieldKey(res.FieldID).
func ListFunc[R any](a *Adapter, res *Resource[R]) func(context.Context) ([]R, error) {
	return func(ctx context.Context) ([]R, error) {
		if err := res.Validate(); err != nil {
			return nil, err
		}
		if res.Kind != KindList {
			return nil, fmt.Errorf("%w: %s is not a list", ErrInvalidResource, res.Name)
		}
		rawURL, err := res.URL(a.BaseURL)
		if err != nil {
			return nil, err
		}
		payload, err := a.fetch(ctx, res.Name, rawURL, res.RequireAuth)
		if err != nil {
			return nil, err
		}
		return res.LoadList(rawURL, payload)
	}
}

// SetFunc returns the write-back for res. The value is sent as JSON to
// the resource URL without pagination parameters.
func SetFunc[R any](a *Adapter, res *Resource[R]) func(context.Context, R) error {
	return func(ctx context.Context, value R) error {
		if err := res.Validate(); err != nil {
			return err
		}
		path, err := ExpandPath(res.Path, res.PathParams)
		if err != nil {
			return err
		}
		rawURL, err := CreateResourceURL(a.BaseURL, path, nil)
		if err != nil {
			return err
		}
		if a.Client == nil {
			return fmt.Errorf("%w: %s: no client", ErrInvalidResource, res.Name)
		}
		token, err := a.token(ctx, res.Name, res.RequireAuth)
		if err != nil {
			return err
		}
		body, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("remote: encode %s: %w", res.Name, err)
		}
		method := a.SetMethod
		if method == "" {
			method = http.MethodPatch
		}
		_, err = a.Client.SendJSON(ctx, method, rawURL, token, body)
		return err
	}
}

func hydrateContext(name, rawURL string) hydrate.Context {
	return hydrate.Context{Resource: name, URL: rawURL}
}
