package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	synced "github.com/goliatone/go-synced"
	"github.com/goliatone/go-synced/pkg/config"
	"github.com/goliatone/go-synced/pkg/expression"
	"github.com/goliatone/go-synced/pkg/remote"
)

type fetchFlags struct {
	page       int
	params     []string
	pathParams []string
	noSave     bool
	timeout    time.Duration
	watch      time.Duration
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var flags fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch <resource>",
		Short: "Fetch a configured resource, persist it and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rc, ok := cfg.Resource(args[0])
			if !ok {
				return fmt.Errorf("resource %q is not configured", args[0])
			}
			return withSession(cmd, ctx, func(s *session) error {
				return runFetch(cmd, s, rc, flags)
			})
		},
	}
	cmd.Flags().IntVar(&flags.page, "page", 0, "Page to request (list resources)")
	cmd.Flags().StringArrayVar(&flags.params, "param", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.pathParams, "path-param", nil, "Path placeholder as key=value (repeatable)")
	cmd.Flags().BoolVar(&flags.noSave, "no-save", false, "Do not persist the result")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Give up waiting for the first result after this long")
	cmd.Flags().DurationVar(&flags.watch, "watch", 0, "Refresh on this interval and print every change until interrupted")
	return cmd
}

// fetchTarget is the part of a synced node or collection the command
// drives.
type fetchTarget struct {
	status  *synced.Node[synced.Status]
	value   func() any
	changes func(fn func()) (cancel func())
}

func runFetch(cmd *cobra.Command, s *session, rc config.ResourceConfig, flags fetchFlags) error {
	pathParams, err := parsePairs(flags.pathParams)
	if err != nil {
		return err
	}
	params, err := parsePairs(flags.params)
	if err != nil {
		return err
	}
	res, err := buildResource(rc, s.cfg.Remote.PerPage, flags.page, params, pathParams)
	if err != nil {
		return err
	}
	if res.RequireAuth && s.cfg.Remote.Token == "" {
		return fmt.Errorf("%w: %s needs remote.token (or SYNCED_REMOTE_TOKEN)", remote.ErrAuthNotReady, rc.Name)
	}

	token := synced.NewNode(s.cfg.Remote.Token)
	client := remote.NewHTTPClient(s.cfg.Remote.Timeout)
	client.Logger = s.logger
	adapter := &remote.Adapter{
		Client:  client,
		BaseURL: s.cfg.Remote.BaseURL,
		Token:   synced.TokenFrom(token),
		Logger:  s.logger,
	}

	tick := synced.NewNode(0)
	var waitFor synced.Waiter
	if res.RequireAuth {
		waitFor = synced.WhenSet(token)
	}
	target, err := openTarget(s.store, rc, res, adapter, waitFor, tick, flags.noSave)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()
	status, err := synced.WaitFor(waitCtx, target.status, settled(1))
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rc.Name, err)
	}
	if status.State == synced.StateError {
		return status.Err
	}
	if err := printJSON(cmd, target.value()); err != nil {
		return err
	}
	if flags.watch <= 0 {
		return nil
	}
	return watchTarget(cmd, s, target, tick, flags.watch)
}

func settled(gen uint64) func(synced.Status) bool {
	return func(s synced.Status) bool {
		return s.Generation >= gen && (s.State == synced.StateSynced || s.State == synced.StateError)
	}
}

func openTarget(store *synced.Store, rc config.ResourceConfig, res *remote.Resource[any], adapter *remote.Adapter, waitFor synced.Waiter, tick synced.Dependency, noSave bool) (*fetchTarget, error) {
	triggers := []synced.Dependency{tick}

	if res.Kind == remote.KindList {
		opts := synced.CollectionOptions[any]{
			Name:     rc.Name,
			List:     remote.ListFunc(adapter, res),
			Key:      remote.FieldKey[any](res.FieldID),
			WaitFor:  waitFor,
			Triggers: triggers,
		}
		if !noSave {
			opts.Persist = &synced.PersistOptions[map[string]any]{Name: rc.Name}
		}
		coll, err := synced.NewCollection(store, opts)
		if err != nil {
			return nil, err
		}
		return &fetchTarget{
			status:  coll.Status(),
			value:   func() any { return coll.Get() },
			changes: coll.Watch,
		}, nil
	}

	opts := synced.SyncOptions[any]{
		Name:     rc.Name,
		Get:      remote.GetFunc(adapter, res),
		WaitFor:  waitFor,
		Triggers: triggers,
	}
	if !noSave {
		opts.Persist = &synced.PersistOptions[any]{Name: rc.Name}
	}
	node, err := synced.New(store, opts)
	if err != nil {
		return nil, err
	}
	return &fetchTarget{
		status:  node.Status(),
		value:   func() any { return node.Get() },
		changes: node.Watch,
	}, nil
}

func watchTarget(cmd *cobra.Command, s *session, target *fetchTarget, tick *synced.Node[int], every time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if s.registry != nil && s.cfg.Metrics.Addr != "" {
		srv, err := serveMetrics(s, s.cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	changed := make(chan struct{}, 1)
	cancel := target.changes(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = tick.Update(func(n int) int { return n + 1 })
		case <-changed:
			if err := printJSON(cmd, target.value()); err != nil {
				return err
			}
		}
	}
}

func serveMetrics(s *session, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

// buildResource turns a configured resource into a descriptor for
// untyped records.
func buildResource(rc config.ResourceConfig, perPage, page int, params, pathParams map[string]string) (*remote.Resource[any], error) {
	merged := make(map[string]string, len(rc.PathParams)+len(pathParams))
	for k, v := range rc.PathParams {
		merged[k] = v
	}
	for k, v := range pathParams {
		merged[k] = v
	}
	query := url.Values{}
	for k, v := range rc.Params {
		query.Set(k, v)
	}
	for k, v := range params {
		query.Set(k, v)
	}

	opts := []remote.ResourceOption[any]{
		remote.WithPathParams[any](merged),
		remote.WithParams[any](func() url.Values { return query }),
		remote.WithPickFields[any](rc.PickFields...),
		remote.WithFieldID[any](rc.FieldID),
	}
	if rc.Public {
		opts = append(opts, remote.Public[any]())
	}
	if page > 0 {
		opts = append(opts, remote.WithPagination[any](func() int { return page }, perPage))
	}
	if strings.TrimSpace(rc.Transform) != "" {
		eval, err := expression.New(rc.Engine,
			expression.WithProgramCache(expression.NewMapCache()),
			expression.WithFunctions(expression.Builtins()),
		)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}
		opts = append(opts, remote.WithRawTransform[any](remote.ExpressionTransform(eval, rc.Transform, nil)))
	}

	res := remote.NewResource[any](remote.Kind(rc.Kind), rc.Name, rc.Path, opts...)
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

func parsePairs(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", value)
		}
		out[strings.TrimSpace(key)] = val
	}
	return out, nil
}
