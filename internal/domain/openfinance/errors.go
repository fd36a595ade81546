// Package openfinance provides the incremental sync engine: the reconciler
// and the per-connection sync orchestrator.
package openfinance

import (
	"errors"
	"fmt"
)

// Failure kinds. Every *SyncError unwraps to exactly one of these.
var (
	// ErrProviderUnavailable covers transport failures, timeouts, rate
	// limiting and 5xx responses. The next scheduled run retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected covers 4xx responses such as a revoked credential.
	// The connection is flagged for attention.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrReconciliation is a storage failure while applying fetched data.
	ErrReconciliation = errors.New("reconciliation failed")

	// ErrCursorPersist is a failure to store the cursor after a page was
	// applied. The page is replayed on the next run.
	ErrCursorPersist = errors.New("cursor persist failed")
)

// ErrSyncInProgress is returned when another run holds the connection lock.
var ErrSyncInProgress = errors.New("sync already in progress for connection")

// Phase is a step of the per-connection sync state machine.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseFetchingAccounts  Phase = "fetching_accounts"
	PhaseFetchingDeltaPage Phase = "fetching_delta_page"
	PhaseReconciling       Phase = "reconciling"
	PhaseCursorPersisted   Phase = "cursor_persisted"
	PhaseFailed            Phase = "failed"
)

// SyncError describes a failed sync run: the phase it failed in, the failure
// kind and the underlying cause. errors.Is matches both Kind and Err.
type SyncError struct {
	ConnectionID string
	Phase        Phase
	Kind         error
	Err          error
}

func (e *SyncError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("sync %s failed during %s: %v", e.ConnectionID, e.Phase, e.Err)
	}
	return fmt.Sprintf("sync %s failed during %s: %v: %v", e.ConnectionID, e.Phase, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KindLabel returns a short metric/event label for the failure kind.
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrReconciliation):
		return "reconciliation"
	case errors.Is(err, ErrCursorPersist):
		return "cursor_persist"
	case errors.Is(err, ErrSyncInProgress):
		return "in_progress"
	default:
		return "unknown"
	}
}
