package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-synced/internal/debounce"
	"github.com/goliatone/go-synced/pkg/activity"
	"github.com/goliatone/go-synced/pkg/metrics"
	"github.com/google/uuid"
)

// DefaultSaveTimeout is the debounce interval applied when a document does
// not configure its own.
const DefaultSaveTimeout = 300 * time.Millisecond

// DocumentOptions configure one document. A zero SaveTimeout inherits the
// plugin default; use a negative value to write on the next tick.
type DocumentOptions struct {
	Format      Format
	SaveTimeout time.Duration
}

// Snapshot is the last bytes read from or written to the backend for a
// document.
type Snapshot struct {
	Name       string
	Format     Format
	Data       []byte
	SnapshotID string
	UpdatedAt  time.Time
}

// WriteResult reports the outcome of one debounced write.
type WriteResult struct {
	Name       string
	SnapshotID string
	Err        error
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger used for write failures and preload results.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records write counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) {
		p.metrics = m
	}
}

// WithEmitter reports writes as activity events.
func WithEmitter(emitter *activity.Emitter) Option {
	return func(p *Plugin) {
		p.emitter = emitter
	}
}

// WithDefaults sets options inherited by documents that are not configured
// explicitly.
func WithDefaults(opts DocumentOptions) Option {
	return func(p *Plugin) {
		p.defaults = opts
	}
}

// Plugin mirrors named documents into a Backend. It is safe for concurrent
// use and is meant to be shared by every node persisting into the backend.
type Plugin struct {
	backend   Backend
	defaults  DocumentOptions
	logger    *slog.Logger
	metrics   *metrics.Metrics
	emitter   *activity.Emitter
	debouncer *debounce.Debouncer

	mu        sync.Mutex
	docs      map[string]*document
	listeners map[int]func(WriteResult)
	nextID    int
	closed    bool
}

type document struct {
	name  string
	opts  DocumentOptions
	codec Codec

	writeMu sync.Mutex

	mu          sync.Mutex
	snapshot    *Snapshot
	lastWritten []byte
	pending     any
	hasPending  bool
	saving      bool
	lastErr     error
}

// NewPlugin constructs a Plugin writing into backend.
func NewPlugin(backend Backend, opts ...Option) *Plugin {
	p := &Plugin{
		backend:   backend,
		defaults:  DocumentOptions{Format: FormatJSON, SaveTimeout: DefaultSaveTimeout},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		debouncer: debounce.New(),
		docs:      make(map[string]*document),
		listeners: make(map[int]func(WriteResult)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.defaults.Format == "" {
		p.defaults.Format = FormatJSON
	}
	if p.defaults.SaveTimeout == 0 {
		p.defaults.SaveTimeout = DefaultSaveTimeout
	}
	p.logger = p.logger.With("component", "persist")
	return p
}

// Backend returns the backend documents are written to.
func (p *Plugin) Backend() Backend { return p.backend }

// Configure sets the options for name. It must be called before the
// document is first loaded or saved; later calls return an error when the
// format would change.
func (p *Plugin) Configure(name string, opts DocumentOptions) error {
	if opts.Format == "" {
		opts.Format = p.defaults.Format
	}
	if opts.SaveTimeout == 0 {
		opts.SaveTimeout = p.defaults.SaveTimeout
	}
	codec, err := CodecFor(opts.Format)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if doc, ok := p.docs[name]; ok {
		if doc.opts.Format != opts.Format {
			return fmt.Errorf("persist: document %q already uses format %s", name, doc.opts.Format)
		}
		doc.opts.SaveTimeout = opts.SaveTimeout
		return nil
	}
	p.docs[name] = &document{name: name, opts: opts, codec: codec}
	return nil
}

func (p *Plugin) document(name string) (*document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if doc, ok := p.docs[name]; ok {
		return doc, nil
	}
	codec, err := CodecFor(p.defaults.Format)
	if err != nil {
		return nil, err
	}
	doc := &document{name: name, opts: p.defaults, codec: codec}
	p.docs[name] = doc
	return doc, nil
}

// Key returns the backend key a document is stored under.
func (p *Plugin) Key(name string) (string, error) {
	doc, err := p.document(name)
	if err != nil {
		return "", err
	}
	return doc.key(), nil
}

func (d *document) key() string {
	return d.name + "." + d.codec.Extension()
}

// Preload reads the named documents into memory. Documents that do not
// exist yet are skipped; read failures are joined into the returned error.
func (p *Plugin) Preload(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if _, _, err := p.Load(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load returns the in-memory snapshot of name, reading it from the backend
// on first access.
func (p *Plugin) Load(ctx context.Context, name string) (Snapshot, bool, error) {
	doc, err := p.document(name)
	if err != nil {
		return Snapshot{}, false, err
	}
	doc.mu.Lock()
	if doc.snapshot != nil {
		snap := *doc.snapshot
		doc.mu.Unlock()
		return snap, true, nil
	}
	doc.mu.Unlock()

	data, ok, err := p.backend.Read(ctx, doc.key())
	if err != nil {
		p.logger.Warn("document read failed", "document", name, "error", err)
		return Snapshot{}, false, err
	}
	if !ok {
		p.logger.Debug("document not found", "document", name)
		return Snapshot{}, false, nil
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	if doc.snapshot == nil {
		doc.snapshot = &Snapshot{
			Name:      name,
			Format:    doc.codec.Format(),
			Data:      data,
			UpdatedAt: time.Now(),
		}
		p.logger.Debug("document loaded", "document", name, "bytes", len(data))
	}
	return *doc.snapshot, true, nil
}

// Get returns the last loaded or written snapshot of name. It never touches
// the backend.
func (p *Plugin) Get(name string) (Snapshot, bool) {
	p.mu.Lock()
	doc, ok := p.docs[name]
	p.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if doc.snapshot == nil {
		return Snapshot{}, false
	}
	return *doc.snapshot, true
}

// Decode unmarshals the in-memory snapshot of name into dest. It reports
// false when the document was never loaded.
func (p *Plugin) Decode(name string, dest any) (bool, error) {
	snap, ok := p.Get(name)
	if !ok {
		return false, nil
	}
	codec, err := CodecFor(snap.Format)
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(snap.Data, dest); err != nil {
		return false, fmt.Errorf("persist: decode %s: %w", name, err)
	}
	return true, nil
}

// Save schedules value to be written. A save already pending for name is
// replaced and its timer restarted. value must not be mutated after the
// call; the node layer hands over immutable snapshots.
func (p *Plugin) Save(name string, value any) error {
	doc, err := p.document(name)
	if err != nil {
		return err
	}
	doc.mu.Lock()
	doc.pending = value
	doc.hasPending = true
	timeout := doc.opts.SaveTimeout
	doc.mu.Unlock()

	p.debouncer.Schedule(name, timeout, func() { p.write(doc) })
	return nil
}

// Pending reports whether a save is scheduled for name.
func (p *Plugin) Pending(name string) bool {
	return p.debouncer.Pending(name)
}

// Saving reports whether a write for name is in progress.
func (p *Plugin) Saving(name string) bool {
	p.mu.Lock()
	doc, ok := p.docs[name]
	p.mu.Unlock()
	if !ok {
		return false
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.saving
}

// LastWritten returns the bytes of the last successful write of name.
func (p *Plugin) LastWritten(name string) ([]byte, bool) {
	p.mu.Lock()
	doc, ok := p.docs[name]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.lastWritten, doc.lastWritten != nil
}

// OnWrite registers fn to be called after every write attempt.
func (p *Plugin) OnWrite(fn func(WriteResult)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Plugin) write(doc *document) {
	doc.writeMu.Lock()
	defer doc.writeMu.Unlock()

	doc.mu.Lock()
	if !doc.hasPending {
		doc.mu.Unlock()
		return
	}
	value := doc.pending
	doc.pending = nil
	doc.hasPending = false
	doc.saving = true
	doc.mu.Unlock()

	start := time.Now()
	snapshotID := uuid.NewString()
	data, err := doc.codec.Marshal(value)
	if err != nil {
		err = fmt.Errorf("%w: encode %s: %w", ErrWriteFailed, doc.name, err)
	} else if werr := p.backend.Write(context.Background(), doc.key(), data); werr != nil {
		err = fmt.Errorf("%w: %s: %w", ErrWriteFailed, doc.name, werr)
	}
	took := time.Since(start)

	doc.mu.Lock()
	doc.saving = false
	doc.lastErr = err
	if err == nil {
		doc.lastWritten = data
		doc.snapshot = &Snapshot{
			Name:       doc.name,
			Format:     doc.codec.Format(),
			Data:       data,
			SnapshotID: snapshotID,
			UpdatedAt:  time.Now(),
		}
	}
	doc.mu.Unlock()

	input := activity.DocumentEventInput{
		Name:     doc.name,
		Format:   string(doc.codec.Format()),
		Duration: took,
		Err:      err,
	}
	if err != nil {
		p.logger.Error("document write failed", "document", doc.name, "error", err)
		p.metrics.SaveFailed(doc.name)
		p.emit(activity.BuildDocumentSaveFailedEvent(input))
		snapshotID = ""
	} else {
		p.logger.Debug("document written", "document", doc.name, "bytes", len(data), "took", took)
		p.metrics.Saved(doc.name, string(doc.codec.Format()), took)
		input.SnapshotID = snapshotID
		input.Bytes = len(data)
		p.emit(activity.BuildDocumentSavedEvent(input))
	}

	p.notify(WriteResult{Name: doc.name, SnapshotID: snapshotID, Err: err})
}

func (p *Plugin) emit(event activity.Event) {
	if err := p.emitter.Emit(context.Background(), event); err != nil {
		p.logger.Warn("activity hook failed", "verb", event.Verb, "error", err)
	}
}

func (p *Plugin) notify(result WriteResult) {
	p.mu.Lock()
	listeners := make([]func(WriteResult), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(result)
	}
}

// Flush runs every pending save accepted by predicate now and waits for the
// writes to finish. A nil predicate flushes everything. The returned error
// joins the failures of the flushed documents; ctx bounds the wait, not the
// writes themselves.
func (p *Plugin) Flush(ctx context.Context, predicate func(name string) bool) error {
	var names []string
	for _, name := range p.debouncer.Keys() {
		if predicate == nil || predicate(name) {
			names = append(names, name)
		}
	}

	done := make(chan struct{})
	go func() {
		p.debouncer.Flush(predicate)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	p.mu.Lock()
	docs := make([]*document, 0, len(names))
	for _, name := range names {
		if doc, ok := p.docs[name]; ok {
			docs = append(docs, doc)
		}
	}
	p.mu.Unlock()
	for _, doc := range docs {
		doc.mu.Lock()
		if doc.lastErr != nil {
			errs = append(errs, doc.lastErr)
		}
		doc.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Close rejects new saves, flushes the pending ones, stops the scheduler and
// closes the backend. Save calls from the moment Close starts return ErrClosed.
func (p *Plugin) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	flushErr := p.Flush(ctx, nil)
	p.debouncer.Stop()
	return errors.Join(flushErr, p.backend.Close())
}
