package sync

import (
	"context"
	"time"
)

// Syncer is the orchestrator surface the background scheduler and UI
// collaborators depend on. It allows mocking in tests and alternative
// implementations.
type Syncer interface {
	// SyncPendingChanges runs one full sync cycle.
	SyncPendingChanges(ctx context.Context) (*SyncResult, error)

	// SyncWithOptions runs one cycle bounded by the given options.
	SyncWithOptions(ctx context.Context, opts CycleOptions) (*SyncResult, error)

	// CancelPendingSync signals cooperative cancellation of the
	// running cycle, if any.
	CancelPendingSync()

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// Phase returns the current cycle phase.
	Phase() Phase

	// LastSync returns the end time of the last successful cycle.
	LastSync() *time.Time

	// LastError returns the last cycle-level error.
	LastError() error
}

var _ Syncer = (*Orchestrator)(nil)
