package synced

import "time"

// State is the sync lifecycle of a node.
type State string

const (
	StateIdle     State = "idle"
	StateWaiting  State = "waiting"
	StateFetching State = "fetching"
	StateSynced   State = "synced"
	StateError    State = "error"
)

// Status is the side channel through which fetch outcomes are reported.
// Err holds the last failure until the next successful fetch.
type Status struct {
	State        State
	Err          error
	Generation   uint64
	LastSyncedAt time.Time
}
