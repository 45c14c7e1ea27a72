package synced

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/goliatone/go-synced/pkg/remote"
)

var (
	// ErrAuthNotReady means a fetch was still waiting for its auth token
	// when it was cancelled. It is a deferred state, not a failure.
	ErrAuthNotReady = remote.ErrAuthNotReady
	// ErrRemoteFetchFailed matches network and non-success HTTP failures.
	ErrRemoteFetchFailed = remote.ErrFetchFailed
	// ErrPersistenceWriteFailed matches encode and backend write failures.
	ErrPersistenceWriteFailed = persist.ErrWriteFailed
	// ErrUnsupportedOperation is returned when writing to a derived value
	// that has no setter.
	ErrUnsupportedOperation = errors.New("synced: unsupported operation")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("synced: store closed")
)

// SyncError adds the node name, operation and fetch generation to a
// contained failure.
type SyncError struct {
	Op         string
	Name       string
	Generation uint64
	Err        error
}

func (e *SyncError) Error() string {
	if e.Generation > 0 {
		return fmt.Sprintf("synced: %s %s (generation %d): %v", e.Op, e.Name, e.Generation, e.Err)
	}
	return fmt.Sprintf("synced: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
