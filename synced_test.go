package synced

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-synced/pkg/activity"
	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/goliatone/go-synced/pkg/remote"
)

type settings struct {
	Theme    string `json:"theme"`
	FontSize int    `json:"fontSize"`
}

func newTestStore(t *testing.T, backend persist.Backend, opts ...StoreOption) *Store {
	t.Helper()
	plugin := persist.NewPlugin(backend, persist.WithDefaults(persist.DocumentOptions{SaveTimeout: time.Hour}))
	store := NewStore(append([]StoreOption{WithPlugin(plugin)}, opts...)...)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func waitStatus(t *testing.T, node interface{ Status() *Node[Status] }, ready func(Status) bool) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := WaitFor[Status](ctx, node.Status(), ready)
	if err != nil {
		t.Fatalf("status never became ready, last %+v: %v", node.Status().Get(), err)
	}
	return status
}

func seed(t *testing.T, backend persist.Backend, key string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := backend.Write(context.Background(), key, data); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHydrationKeepsDefaultsAndIsIdempotent(t *testing.T) {
	backend := persist.NewMemoryBackend()
	seed(t, backend, "settings.json", map[string]any{"theme": "dark"})
	store := newTestStore(t, backend)

	node, err := New(store, SyncOptions[settings]{
		Initial: settings{Theme: "light", FontSize: 14},
		Persist: &PersistOptions[settings]{Name: "settings"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first := node.Get()
	if first != (settings{Theme: "dark", FontSize: 14}) {
		t.Fatalf("unexpected hydrated value %+v", first)
	}

	if err := node.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if err := node.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if node.Get() != first {
		t.Fatalf("hydrating again changed the value: %+v", node.Get())
	}
	if store.Plugin().Pending("settings") || node.Dirty() {
		t.Fatalf("hydration must not schedule a save")
	}
	if got := backend.Writes("settings.json"); got != 1 {
		t.Fatalf("expected only the seed write, got %d", got)
	}
}

func TestLocalMutationSavesAndClearsDirty(t *testing.T) {
	backend := persist.NewMemoryBackend()
	store := newTestStore(t, backend)

	node, err := New(store, SyncOptions[settings]{
		Initial: settings{Theme: "light", FontSize: 14},
		Persist: &PersistOptions[settings]{Name: "settings"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for size := 10; size <= 20; size++ {
		_ = node.Assign(settings{FontSize: size})
	}
	if !node.Dirty() {
		t.Fatalf("expected node to be dirty after a local write")
	}
	if err := store.Plugin().Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if node.Dirty() {
		t.Fatalf("expected dirty flag cleared after the write")
	}
	if got := backend.Writes("settings.json"); got != 1 {
		t.Fatalf("expected 1 coalesced write, got %d", got)
	}
	data, _, _ := backend.Read(context.Background(), "settings.json")
	var stored settings
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored != (settings{Theme: "light", FontSize: 20}) {
		t.Fatalf("unexpected stored value %+v", stored)
	}
}

func TestRemoteGetReplacesValueAndSchedulesSave(t *testing.T) {
	backend := persist.NewMemoryBackend()
	hook := &activity.CaptureHook{}
	store := newTestStore(t, backend, WithEmitter(activity.NewEmitter(activity.Hooks{hook}, activity.Config{Enabled: true})))

	node, err := New(store, SyncOptions[settings]{
		Name:    "profile",
		Initial: settings{Theme: "light"},
		Persist: &PersistOptions[settings]{Name: "profile"},
		Get: func(context.Context) (settings, error) {
			return settings{Theme: "remote", FontSize: 11}, nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	status := waitStatus(t, node, func(s Status) bool { return s.State == StateSynced })
	if status.Generation != 1 || status.LastSyncedAt.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
	if node.Get() != (settings{Theme: "remote", FontSize: 11}) {
		t.Fatalf("unexpected value %+v", node.Get())
	}
	if !store.Plugin().Pending("profile") {
		t.Fatalf("a remote read should schedule a save")
	}
	if node.Dirty() {
		t.Fatalf("remote results are not local mutations")
	}
	if !slices.Contains(hook.Verbs(), activity.VerbResourceFetched) {
		t.Fatalf("expected fetched event, got %v", hook.Verbs())
	}
}

func TestRemoteFailureKeepsLastValue(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	failure := &remote.StatusError{Method: "GET", URL: "u", StatusCode: 502}

	node, err := New(store, SyncOptions[settings]{
		Name:    "profile",
		Initial: settings{Theme: "cached"},
		Get:     func(context.Context) (settings, error) { return settings{}, failure },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	status := waitStatus(t, node, func(s Status) bool { return s.State == StateError })
	if !errors.Is(status.Err, ErrRemoteFetchFailed) {
		t.Fatalf("expected ErrRemoteFetchFailed in status, got %v", status.Err)
	}
	var syncErr *SyncError
	if !errors.As(status.Err, &syncErr) || syncErr.Op != "fetch" || syncErr.Generation != 1 {
		t.Fatalf("expected SyncError context, got %#v", status.Err)
	}
	if node.Get().Theme != "cached" {
		t.Fatalf("failed fetch must keep the last value, got %+v", node.Get())
	}
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	hook := &activity.CaptureHook{}
	store := newTestStore(t, persist.NewMemoryBackend(), WithEmitter(activity.NewEmitter(activity.Hooks{hook}, activity.Config{Enabled: true})))

	var calls atomic.Int32
	started := make(chan int32, 4)
	release := make(chan struct{})
	node, err := New(store, SyncOptions[string]{
		Name: "page",
		Get: func(context.Context) (string, error) {
			n := calls.Add(1)
			started <- n
			if n == 2 {
				<-release
			}
			return fmt.Sprintf("p%d", n), nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	waitStatus(t, node, func(s Status) bool { return s.State == StateSynced && s.Generation == 1 })
	<-started

	node.Refresh()
	if n := <-started; n != 2 {
		t.Fatalf("expected second call, got %d", n)
	}
	node.Refresh()
	<-started
	waitStatus(t, node, func(s Status) bool { return s.State == StateSynced && s.Generation == 3 })

	close(release)
	node.Close()

	if node.Get() != "p3" {
		t.Fatalf("stale response overwrote the newer one: %q", node.Get())
	}
	if !slices.Contains(hook.Verbs(), activity.VerbStaleDiscarded) {
		t.Fatalf("expected a stale discard event, got %v", hook.Verbs())
	}
}

func TestLocalMutationWinsOverInFlightFetch(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	started := make(chan struct{})
	release := make(chan struct{})
	node, err := New(store, SyncOptions[string]{
		Name:    "draft",
		Initial: "seed",
		Get: func(context.Context) (string, error) {
			close(started)
			<-release
			return "remote", nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	<-started
	if node.Get() != "seed" {
		t.Fatalf("pending fetch must expose the seeded value, got %q", node.Get())
	}
	_ = node.Set("local")
	close(release)
	node.Close()

	if node.Get() != "local" {
		t.Fatalf("remote result overwrote a newer local write: %q", node.Get())
	}
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	started := make(chan struct{})
	var cancelled atomic.Bool
	node, err := New(store, SyncOptions[string]{
		Name:    "slow",
		Initial: "seed",
		Get: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return "late", nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	<-started

	done := make(chan struct{})
	go func() {
		node.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
	if !cancelled.Load() {
		t.Fatalf("fetch context was not cancelled")
	}
	if node.Get() != "seed" {
		t.Fatalf("a result landed after Close: %q", node.Get())
	}
}

func TestTriggerWaitsForFirstFetch(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	page := NewNode(1)
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	node, err := New(store, SyncOptions[[]int]{
		Name: "issues",
		Get: func(context.Context) ([]int, error) {
			n := calls.Add(1)
			started <- struct{}{}
			if n == 1 {
				<-release
			}
			return []int{page.Get()}, nil
		},
		Triggers: []Dependency{page},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	<-started

	_ = page.Set(2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Idle(ctx); err != nil {
		t.Fatalf("idle: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("trigger fired against a pending initial fetch: %d calls", calls.Load())
	}

	close(release)
	waitStatus(t, node, func(s Status) bool { return s.State == StateSynced && s.Generation == 2 })
	if calls.Load() != 2 {
		t.Fatalf("expected the remembered trigger to refresh once, got %d calls", calls.Load())
	}
	if !reflect.DeepEqual(node.Get(), []int{2}) {
		t.Fatalf("expected page 2 result, got %v", node.Get())
	}

	_ = page.Set(3)
	waitStatus(t, node, func(s Status) bool { return s.State == StateSynced && s.Generation == 3 })
	if !reflect.DeepEqual(node.Get(), []int{3}) {
		t.Fatalf("expected page 3 result, got %v", node.Get())
	}
}

func TestAuthGateIssuesNoFetchUntilTokenIsSet(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	token := NewNode("")
	var calls atomic.Int32

	node, err := New(store, SyncOptions[string]{
		Name:    "profile",
		WaitFor: WhenSet(token),
		Get: func(context.Context) (string, error) {
			calls.Add(1)
			return "octo", nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	waitStatus(t, node, func(s Status) bool { return s.State == StateWaiting })
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("fetched without a token")
	}

	_ = token.Set("t0k")
	waitStatus(t, node, func(s Status) bool { return s.State == StateSynced })
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one fetch, got %d", calls.Load())
	}
	if node.Get() != "octo" {
		t.Fatalf("unexpected value %q", node.Get())
	}
}

func TestSyncedCollectionAssignMerge(t *testing.T) {
	backend := persist.NewMemoryBackend()
	seed(t, backend, "issues.json", map[string]any{"a": float64(1), "b": float64(2)})
	store := newTestStore(t, backend)

	coll, err := NewCollection(store, CollectionOptions[any]{
		Persist: &PersistOptions[map[string]any]{Name: "issues"},
		List: func(context.Context) ([]any, error) {
			return []any{map[string]any{"id": "a", "v": float64(9)}}, nil
		},
		Key: remote.FieldKey[any]("id"),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	waitStatus(t, coll, func(s Status) bool { return s.State == StateSynced })

	want := map[string]any{"a": map[string]any{"id": "a", "v": float64(9)}, "b": float64(2)}
	if got := coll.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !store.Plugin().Pending("issues") {
		t.Fatalf("expected merged collection to be saved")
	}
}

func TestGatedCollectionKeepsWritesMadeWhileWaiting(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	token := NewNode("")
	var calls atomic.Int32

	coll, err := NewCollection(store, CollectionOptions[any]{
		Name:    "issues",
		WaitFor: WhenSet(token),
		List: func(context.Context) ([]any, error) {
			calls.Add(1)
			return []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}, nil
		},
		Key: remote.FieldKey[any]("id"),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	waitStatus(t, coll, func(s Status) bool { return s.State == StateWaiting })
	if err := coll.Put("draft", "draft"); err != nil {
		t.Fatalf("put: %v", err)
	}

	_ = token.Set("t0k")
	waitStatus(t, coll, func(s Status) bool { return s.State == StateSynced })
	got := coll.Get()
	for _, key := range []string{"a", "b", "draft"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("expected key %q after sync, got %v", key, got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", calls.Load())
	}
}

func TestCollectionRefetchesAfterLocalWriteDropsResult(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	coll, err := NewCollection(store, CollectionOptions[any]{
		Name: "issues",
		List: func(context.Context) ([]any, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return []any{map[string]any{"id": "a"}}, nil
		},
		Key: remote.FieldKey[any]("id"),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	<-started
	if err := coll.Put("draft", "draft"); err != nil {
		t.Fatalf("put: %v", err)
	}
	close(release)

	waitStatus(t, coll, func(s Status) bool { return s.State == StateSynced })
	if calls.Load() != 2 {
		t.Fatalf("expected a refetch after the dropped result, got %d fetches", calls.Load())
	}
	got := coll.Get()
	if _, ok := got["a"]; !ok {
		t.Fatalf("refetch did not merge remote items: %v", got)
	}
	if got["draft"] != "draft" {
		t.Fatalf("local item lost: %v", got)
	}
}

func TestSyncedCollectionLocalDeletePersists(t *testing.T) {
	backend := persist.NewMemoryBackend()
	store := newTestStore(t, backend)

	coll, err := NewCollection(store, CollectionOptions[string]{
		Initial: map[string]string{"t1": "Home", "t2": "Docs"},
		Persist: &PersistOptions[map[string]string]{Name: "tabs"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := coll.Item("t1").Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Plugin().Flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var stored map[string]string
	if ok, err := store.Plugin().Decode("tabs", &stored); !ok || err != nil {
		t.Fatalf("decode: %v %v", ok, err)
	}
	if !reflect.DeepEqual(stored, map[string]string{"t2": "Docs"}) {
		t.Fatalf("unexpected stored tabs %v", stored)
	}
}

func TestListCollectionNeedsKey(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	_, err := NewCollection(store, CollectionOptions[string]{
		List: func(context.Context) ([]string, error) { return nil, nil },
	})
	if err == nil {
		t.Fatalf("expected an error without a key function")
	}
}

func TestRemoteSetPushesLocalWrites(t *testing.T) {
	store := newTestStore(t, persist.NewMemoryBackend())
	pushed := make(chan string, 1)
	node, err := New(store, SyncOptions[string]{
		Name: "title",
		Set: func(_ context.Context, v string) error {
			pushed <- v
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = node.Set("renamed")
	select {
	case got := <-pushed:
		if got != "renamed" {
			t.Fatalf("unexpected pushed value %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("local write was not pushed")
	}
}

func TestStoreCloseFlushesPendingSaves(t *testing.T) {
	backend := persist.NewMemoryBackend()
	plugin := persist.NewPlugin(backend, persist.WithDefaults(persist.DocumentOptions{SaveTimeout: time.Hour}))
	store := NewStore(WithPlugin(plugin))

	node, err := New(store, SyncOptions[settings]{
		Initial: settings{Theme: "light"},
		Persist: &PersistOptions[settings]{Name: "settings"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = node.Set(settings{Theme: "dark"})
	if err := store.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := backend.Writes("settings.json"); got != 1 {
		t.Fatalf("expected close to flush the pending save, got %d writes", got)
	}
	if _, err := New(store, SyncOptions[int]{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
