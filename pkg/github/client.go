package github

import (
	"fmt"
	"time"

	synced "github.com/goliatone/go-synced"
	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/goliatone/go-synced/pkg/remote"
)

// Client binds GitHub resources to a store, an auth token node and an HTTP
// client.
type Client struct {
	Store   *synced.Store
	Adapter *remote.Adapter
	Token   synced.Observable[string]
	// Format of cached documents. Defaults to the binary codec.
	Format persist.Format
}

// Config configures NewClient.
type Config struct {
	BaseURL string
	Timeout time.Duration
	HTTP    remote.Client
	Format  persist.Format
}

// NewClient builds a Client. Authenticated resources wait for token.
func NewClient(store *synced.Store, token synced.Observable[string], cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		c := remote.NewHTTPClient(cfg.Timeout)
		c.Logger = store.Logger()
		httpClient = c
	}
	if cfg.Format == "" {
		cfg.Format = persist.FormatBinary
	}
	adapter := &remote.Adapter{
		Client:  httpClient,
		BaseURL: cfg.BaseURL,
		Logger:  store.Logger(),
	}
	if token != nil {
		adapter.Token = synced.TokenFrom(token)
	}
	return &Client{Store: store, Adapter: adapter, Token: token, Format: cfg.Format}
}

func (c *Client) waiter(requireAuth bool) synced.Waiter {
	if !requireAuth || c.Token == nil {
		return nil
	}
	return synced.WhenSet(c.Token)
}

// NewGet builds a synced node for a single-record resource, cached under
// the resource's cache key.
func NewGet[R any](c *Client, res *remote.Resource[R], initial R) (*synced.Synced[R], error) {
	key, err := cacheKeyFor(res)
	if err != nil {
		return nil, err
	}
	return synced.New(c.Store, synced.SyncOptions[R]{
		Name:    res.Name,
		Initial: initial,
		Persist: &synced.PersistOptions[R]{Name: key, Format: c.Format},
		Get:     remote.GetFunc(c.Adapter, res),
		Mode:    synced.ModeSet,
		WaitFor: c.waiter(res.RequireAuth),
	})
}

// NewList builds a keyed synced collection for a list resource. Every
// page is merged into the same collection; changing page refetches.
func NewList[R any](c *Client, res *remote.Resource[R], page synced.Dependency) (*synced.SyncedCollection[R], error) {
	if res.Kind != remote.KindList {
		return nil, fmt.Errorf("github: %s is not a list resource", res.Name)
	}
	key, err := cacheKeyFor(res)
	if err != nil {
		return nil, err
	}
	var triggers []synced.Dependency
	if page != nil {
		triggers = append(triggers, page)
	}
	return synced.NewCollection(c.Store, synced.CollectionOptions[R]{
		Name:     res.Name,
		Persist:  &synced.PersistOptions[map[string]R]{Name: key, Format: c.Format},
		List:     remote.ListFunc(c.Adapter, res),
		Key:      remote.FieldKey[R](res.FieldID),
		Mode:     synced.ModeAssign,
		WaitFor:  c.waiter(res.RequireAuth),
		Triggers: triggers,
	})
}
