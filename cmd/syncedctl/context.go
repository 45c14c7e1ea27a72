package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	synced "github.com/goliatone/go-synced"
	"github.com/goliatone/go-synced/pkg/activity"
	"github.com/goliatone/go-synced/pkg/config"
	"github.com/goliatone/go-synced/pkg/metrics"
	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/prometheus/client_golang/prometheus"
)

type commandContext struct {
	configFlag  *string
	backendFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, backendFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, backendFlag: backendFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.backendFlag != nil && strings.TrimSpace(*c.backendFlag) != "" {
			cfg.Persist.Backend = strings.TrimSpace(*c.backendFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// session bundles what a command needs to talk to the persisted store.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	backend  persist.Backend
	plugin   *persist.Plugin
	store    *synced.Store
	closers  []io.Closer
}

func (c *commandContext) openSession() (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		m, err = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace, Registerer: s.registry})
		if err != nil {
			s.closeLogger()
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	var emitter *activity.Emitter
	if cfg.Activity.Enabled {
		emitter = activity.NewEmitter(activity.Hooks{logHook(logger)}, activity.Config{
			Enabled: true,
			Channel: cfg.Activity.Channel,
		})
	}

	defaults, err := cfg.Persist.DocumentDefaults()
	if err != nil {
		s.closeLogger()
		return nil, err
	}
	backend, err := persist.Open(cfg.Persist.BackendConfig())
	if err != nil {
		s.closeLogger()
		return nil, err
	}
	s.backend = backend
	s.plugin = persist.NewPlugin(backend,
		persist.WithLogger(logger),
		persist.WithMetrics(m),
		persist.WithEmitter(emitter),
		persist.WithDefaults(defaults),
	)
	s.store = synced.NewStore(
		synced.WithLogger(logger),
		synced.WithPlugin(s.plugin),
		synced.WithMetrics(m),
		synced.WithEmitter(emitter),
	)
	return s, nil
}

// Close flushes pending saves, closes the backend and the log file.
func (s *session) Close(ctx context.Context) error {
	err := s.store.Close(ctx)
	return errors.Join(err, s.closeLogger())
}

func (s *session) closeLogger() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func logHook(logger *slog.Logger) activity.HookFunc {
	return func(ctx context.Context, event activity.Event) error {
		logger.InfoContext(ctx, "activity",
			"verb", event.Verb,
			"object_type", event.ObjectType,
			"object_id", event.ObjectID,
			"channel", event.Channel,
		)
		return nil
	}
}
