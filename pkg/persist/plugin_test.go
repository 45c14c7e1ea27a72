package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-synced/pkg/activity"
)

type failingBackend struct {
	*MemoryBackend
	err error
}

func (b *failingBackend) Write(ctx context.Context, key string, data []byte) error {
	if b.err != nil {
		return b.err
	}
	return b.MemoryBackend.Write(ctx, key, data)
}

func TestSaveCoalescesBurstIntoOneWrite(t *testing.T) {
	backend := NewMemoryBackend()
	plugin := NewPlugin(backend, WithDefaults(DocumentOptions{SaveTimeout: time.Hour}))

	for i := 1; i <= 10; i++ {
		if err := plugin.Save("settings", map[string]int{"count": i}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if !plugin.Pending("settings") {
		t.Fatalf("expected a pending save")
	}
	if err := plugin.Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if got := backend.Writes("settings.json"); got != 1 {
		t.Fatalf("expected exactly 1 write, got %d", got)
	}
	var stored map[string]int
	if ok, err := plugin.Decode("settings", &stored); !ok || err != nil {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if stored["count"] != 10 {
		t.Fatalf("expected last value to be written, got %v", stored)
	}
}

func TestSaveWritesAfterDebounce(t *testing.T) {
	backend := NewMemoryBackend()
	plugin := NewPlugin(backend)
	if err := plugin.Configure("fast", DocumentOptions{SaveTimeout: time.Millisecond}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	written := make(chan WriteResult, 1)
	cancel := plugin.OnWrite(func(r WriteResult) { written <- r })
	defer cancel()

	_ = plugin.Save("fast", []string{"a"})
	select {
	case r := <-written:
		if r.Err != nil || r.Name != "fast" || r.SnapshotID == "" {
			t.Fatalf("unexpected write result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced save never fired")
	}
	if backend.Writes("fast.json") != 1 {
		t.Fatalf("expected one write")
	}
}

func TestFlushPredicateLimitsDocuments(t *testing.T) {
	backend := NewMemoryBackend()
	plugin := NewPlugin(backend, WithDefaults(DocumentOptions{SaveTimeout: time.Hour}))
	_ = plugin.Save("settings", map[string]int{"a": 1})
	_ = plugin.Save("library", map[string]int{"b": 2})

	err := plugin.Flush(context.Background(), func(name string) bool { return name == "settings" })
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if backend.Writes("settings.json") != 1 || backend.Writes("library.json") != 0 {
		t.Fatalf("expected only settings written")
	}
	if !plugin.Pending("library") {
		t.Fatalf("expected library to remain pending")
	}
	_ = plugin.Close(context.Background())
	if backend.Writes("library.json") != 1 {
		t.Fatalf("expected close to flush library")
	}
}

func TestWriteFailureKeepsPreviousSnapshot(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	capture := &activity.CaptureHook{}
	emitter := activity.NewEmitter(activity.Hooks{capture}, activity.Config{Enabled: true})
	plugin := NewPlugin(backend,
		WithDefaults(DocumentOptions{SaveTimeout: time.Hour}),
		WithEmitter(emitter),
	)
	ctx := context.Background()

	_ = plugin.Save("settings", map[string]int{"v": 1})
	if err := plugin.Flush(ctx, nil); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	backend.err = errors.New("disk full")
	_ = plugin.Save("settings", map[string]int{"v": 2})
	err := plugin.Flush(ctx, nil)
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}

	var got map[string]int
	if _, err := plugin.Decode("settings", &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["v"] != 1 {
		t.Fatalf("expected last good snapshot, got %v", got)
	}
	if plugin.Pending("settings") {
		t.Fatalf("expected no automatic retry")
	}

	// the next save reschedules naturally
	backend.err = nil
	_ = plugin.Save("settings", map[string]int{"v": 3})
	if err := plugin.Flush(ctx, nil); err != nil {
		t.Fatalf("recovery flush: %v", err)
	}

	verbs := capture.Verbs()
	want := []string{activity.VerbDocumentSaved, activity.VerbDocumentSaveFailed, activity.VerbDocumentSaved}
	if len(verbs) != len(want) {
		t.Fatalf("expected verbs %v, got %v", want, verbs)
	}
	for i := range want {
		if verbs[i] != want[i] {
			t.Fatalf("expected verbs %v, got %v", want, verbs)
		}
	}
}

func TestEncodeFailureLeavesBackendUntouched(t *testing.T) {
	backend := NewMemoryBackend()
	plugin := NewPlugin(backend, WithDefaults(DocumentOptions{SaveTimeout: time.Hour}))

	_ = plugin.Save("settings", map[string]any{"bad": make(chan int)})
	if err := plugin.Flush(context.Background(), nil); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if backend.Writes("settings.json") != 0 {
		t.Fatalf("expected no backend write")
	}
	if _, ok := plugin.Get("settings"); ok {
		t.Fatalf("expected no snapshot after failed encode")
	}
}

func TestPreloadAndGet(t *testing.T) {
	backend := NewMemoryBackend()
	_ = backend.Write(context.Background(), "settings.json", []byte(`{"sidebarWidth":200}`))
	plugin := NewPlugin(backend)

	if _, ok := plugin.Get("settings"); ok {
		t.Fatalf("expected Get before preload to report false")
	}
	if err := plugin.Preload(context.Background(), "settings", "absent"); err != nil {
		t.Fatalf("preload: %v", err)
	}
	snap, ok := plugin.Get("settings")
	if !ok || string(snap.Data) != `{"sidebarWidth":200}` || snap.Format != FormatJSON {
		t.Fatalf("unexpected snapshot %+v ok=%v", snap, ok)
	}
	if _, ok := plugin.Get("absent"); ok {
		t.Fatalf("expected absent document to report false")
	}
}

func TestConfigureBinaryFormat(t *testing.T) {
	backend := NewMemoryBackend()
	plugin := NewPlugin(backend)
	if err := plugin.Configure("library", DocumentOptions{Format: FormatBinary, SaveTimeout: time.Hour}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	key, _ := plugin.Key("library")
	if key != "library.cbor" {
		t.Fatalf("expected cbor key, got %s", key)
	}
	_ = plugin.Save("library", map[string]any{"version": 1})
	_ = plugin.Flush(context.Background(), nil)
	if backend.Writes("library.cbor") != 1 {
		t.Fatalf("expected binary document write")
	}

	if err := plugin.Configure("library", DocumentOptions{Format: FormatJSON}); err == nil {
		t.Fatalf("expected format change to be rejected")
	}
}

func TestSaveAfterCloseFails(t *testing.T) {
	plugin := NewPlugin(NewMemoryBackend())
	if err := plugin.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := plugin.Save("settings", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseRejectsSavesWhileFlushing(t *testing.T) {
	backend := &blockingBackend{
		MemoryBackend: NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	plugin := NewPlugin(backend, WithDefaults(DocumentOptions{SaveTimeout: time.Hour}))
	if err := plugin.Save("settings", 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- plugin.Close(context.Background()) }()
	<-backend.entered

	if err := plugin.Save("profile", 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed during close, got %v", err)
	}
	close(backend.release)
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := backend.Writes("settings.json"); got != 1 {
		t.Fatalf("expected the pending save to be flushed, got %d writes", got)
	}
	if got := backend.Writes("profile.json"); got != 0 {
		t.Fatalf("expected no write for a rejected save, got %d", got)
	}
}

type blockingBackend struct {
	*MemoryBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Write(ctx context.Context, key string, data []byte) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemoryBackend.Write(ctx, key, data)
}

func TestWritesForOneDocumentAreSerialized(t *testing.T) {
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	plugin := NewPlugin(backend, WithDefaults(DocumentOptions{SaveTimeout: -1}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = plugin.Save("settings", i)
		}(i)
	}
	wg.Wait()
	_ = plugin.Flush(context.Background(), nil)

	if backend.maxConcurrent() > 1 {
		t.Fatalf("expected serialized writes, saw %d concurrent", backend.maxConcurrent())
	}
}

type countingBackend struct {
	*MemoryBackend
	mu      sync.Mutex
	current int
	max     int
}

func (b *countingBackend) Write(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.current++
	if b.current > b.max {
		b.max = b.current
	}
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
	b.mu.Lock()
	b.current--
	b.mu.Unlock()
	return b.MemoryBackend.Write(ctx, key, data)
}

func (b *countingBackend) maxConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max
}
