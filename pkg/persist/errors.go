package persist

import "errors"

var (
	// ErrWriteFailed wraps every encode or backend write failure.
	ErrWriteFailed = errors.New("persist: write failed")
	// ErrLocked is returned when another process owns a document directory.
	ErrLocked = errors.New("persist: directory is locked by another process")
	// ErrClosed is returned by operations on a closed plugin.
	ErrClosed = errors.New("persist: plugin closed")
	// ErrUnknownFormat is returned for an unsupported serialization format.
	ErrUnknownFormat = errors.New("persist: unknown format")
	// ErrInvalidKey is returned for keys that cannot map to a single document.
	ErrInvalidKey = errors.New("persist: invalid document key")
)
