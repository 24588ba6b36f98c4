package sync

import (
	"context"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/jubileebay/jubileesync/internal/db"
	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/logging"
	"github.com/jubileebay/jubileesync/internal/models"
	"github.com/jubileebay/jubileesync/internal/sync/conflict"
	"github.com/jubileebay/jubileesync/internal/sync/queue"
)

// Phase identifies a stage of the sync cycle state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseVerifying   Phase = "verifying_remote_availability"
	PhaseUploading   Phase = "uploading"
	PhaseDownloading Phase = "downloading"
	PhaseResolving   Phase = "resolving_conflicts"
)

// SyncResult summarizes one completed (or aborted) sync cycle.
type SyncResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Uploaded   int
	Downloaded int
	Conflicts  int
	Errors     int
	Error      string
}

// CycleOptions bound how much work one cycle may take on.
type CycleOptions struct {
	// MaxItems caps how many pending entities are pulled from the
	// queue; zero means all.
	MaxItems int
	// MinPriority restricts the pull to tiers at or above this level.
	MinPriority queue.Priority
}

// OrchestratorConfig holds orchestrator tuning knobs.
type OrchestratorConfig struct {
	BatchSize int // records per batch write
	PageSize  int // records per download page
	Retry     RetryConfig
}

// DefaultOrchestratorConfig returns the standard configuration.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		BatchSize: 50,
		PageSize:  100,
		Retry:     DefaultRetryConfig(),
	}
}

// Orchestrator drives the upload/download/conflict cycle against the
// remote store. One cycle runs at a time; a second call fails with
// ALREADY_SYNCING.
type Orchestrator struct {
	repo     *db.Repository
	remote   RemoteStore
	resolver *conflict.Resolver
	queue    *queue.PriorityQueue

	batchSize int
	pageSize  int
	retry     RetryConfig

	mu            gosync.Mutex
	syncing       bool
	cancel        chan struct{}
	phase         Phase
	handler       EventHandler
	events        chan Event
	dispatchOnce  gosync.Once
	lastSync      *time.Time
	lastErr       error
	progressDone  int
	progressTotal int
}

// NewOrchestrator creates an Orchestrator. All collaborators are
// injected; the composition root decides sharing.
func NewOrchestrator(repo *db.Repository, remote RemoteStore, resolver *conflict.Resolver, q *queue.PriorityQueue, config *OrchestratorConfig) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	return &Orchestrator{
		repo:      repo,
		remote:    remote,
		resolver:  resolver,
		queue:     q,
		batchSize: config.BatchSize,
		pageSize:  config.PageSize,
		retry:     config.Retry,
		phase:     PhaseIdle,
	}
}

// SetEventHandler sets the handler for sync lifecycle notifications.
// Events are delivered off the sync goroutine but in emission order, so
// collaborators observe progress counters advancing monotonically.
func (o *Orchestrator) SetEventHandler(handler EventHandler) {
	o.mu.Lock()
	o.handler = handler
	o.mu.Unlock()

	o.dispatchOnce.Do(func() {
		o.mu.Lock()
		o.events = make(chan Event, 256)
		o.mu.Unlock()
		go o.dispatchEvents()
	})
}

// dispatchEvents delivers queued events one at a time.
func (o *Orchestrator) dispatchEvents() {
	for event := range o.events {
		o.mu.Lock()
		handler := o.handler
		o.mu.Unlock()
		if handler != nil {
			handler.OnSyncEvent(event)
		}
	}
}

// Phase returns the current cycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastSync returns the end time of the last successful cycle.
func (o *Orchestrator) LastSync() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSync
}

// LastError returns the last cycle-level error.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Progress returns the completed-vs-total item counters for the
// current cycle. The completed counter only ever advances within a
// cycle.
func (o *Orchestrator) Progress() (completed, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progressDone, o.progressTotal
}

// SyncPendingChanges runs one full sync cycle with no item cap.
func (o *Orchestrator) SyncPendingChanges(ctx context.Context) (*SyncResult, error) {
	return o.SyncWithOptions(ctx, CycleOptions{})
}

// SyncWithOptions runs one full sync cycle bounded by opts.
func (o *Orchestrator) SyncWithOptions(ctx context.Context, opts CycleOptions) (*SyncResult, error) {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return nil, errors.New(errors.ErrAlreadySyncing, "sync cycle already in progress")
	}
	o.syncing = true
	o.cancel = make(chan struct{})
	cancel := o.cancel
	o.progressDone = 0
	o.progressTotal = 0
	o.mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}
	o.emit(Event{Type: EventStarted})

	err := o.runCycle(ctx, cancel, opts, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	o.mu.Lock()
	o.syncing = false
	o.phase = PhaseIdle
	if err != nil {
		o.lastErr = err
		result.Error = err.Error()
	} else {
		end := result.EndTime
		o.lastSync = &end
		o.lastErr = nil
	}
	o.mu.Unlock()

	if err != nil {
		o.emit(Event{Type: EventFailed, Message: err.Error()})
		logging.ErrorWithCode("sync cycle failed", string(errors.Code(err)), err,
			map[string]interface{}{
				"uploaded":   result.Uploaded,
				"downloaded": result.Downloaded,
			})
		return result, err
	}

	if stateErr := o.repo.SetState(db.StateKeyLastSyncDate, strconv.FormatInt(result.EndTime.Unix(), 10)); stateErr != nil {
		logging.Warn("failed to record last sync date", map[string]interface{}{"error": stateErr.Error()})
	}

	o.emit(Event{Type: EventCompleted, Completed: result.Uploaded + result.Downloaded})
	logging.Info("sync cycle completed",
		map[string]interface{}{
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
			"conflicts":  result.Conflicts,
			"errors":     result.Errors,
			"duration":   result.Duration.String(),
		})
	return result, nil
}

// CancelPendingSync signals cooperative cancellation. Already-committed
// batches stay committed; the watermark keeps only fully-processed
// pages.
func (o *Orchestrator) CancelPendingSync() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncing && o.cancel != nil {
		select {
		case <-o.cancel:
		default:
			close(o.cancel)
		}
	}
}

// GetPendingConflicts returns entities awaiting conflict resolution.
func (o *Orchestrator) GetPendingConflicts() ([]*models.Entity, error) {
	return o.repo.FetchConflicts()
}

// runCycle walks the phase state machine.
func (o *Orchestrator) runCycle(ctx context.Context, cancel chan struct{}, opts CycleOptions, result *SyncResult) error {
	// Phase 1: verify remote availability. Fail fast, no retry here.
	o.setPhase(PhaseVerifying)
	status, err := o.remote.AccountStatus(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrNetworkUnavailable, "remote store unreachable", err)
	}
	switch status {
	case AccountAvailable:
	case AccountNoAccount, AccountRestricted:
		return errors.New(errors.ErrAuthRequired, "remote account not available: "+string(status))
	default:
		return errors.New(errors.ErrNetworkUnavailable, "remote account status unknown")
	}

	if err := o.checkCancelled(ctx, cancel); err != nil {
		return err
	}

	// Phase 2: upload pending local changes.
	o.setPhase(PhaseUploading)
	if err := o.uploadPending(ctx, cancel, opts, result); err != nil {
		return err
	}

	if err := o.checkCancelled(ctx, cancel); err != nil {
		return err
	}

	// Phase 3: download remote changes since the watermark.
	o.setPhase(PhaseDownloading)
	if err := o.downloadChanges(ctx, cancel, result); err != nil {
		return err
	}

	if err := o.checkCancelled(ctx, cancel); err != nil {
		return err
	}

	// Phase 4: resolve flagged conflicts.
	o.setPhase(PhaseResolving)
	return o.resolveConflicts(ctx, cancel, result)
}

// =====================================================
// Uploading
// =====================================================

// workItem pairs an entity with the queue tier it was pulled from, so
// a requeue preserves the original priority.
type workItem struct {
	entity   *models.Entity
	priority queue.Priority
}

// uploadPending drains the priority queue and writes pending entities
// in batches with a changed-keys-only save policy.
func (o *Orchestrator) uploadPending(ctx context.Context, cancel chan struct{}, opts CycleOptions, result *SyncResult) error {
	items := o.pullWork(opts)
	if len(items) == 0 {
		return nil
	}

	work := make([]workItem, 0, len(items))
	for _, item := range items {
		e, err := o.repo.GetEntity(item.UUID)
		if err != nil {
			if errors.Is(err, errors.ErrEntityNotFound) {
				continue
			}
			return err
		}
		// Never re-upload an unresolved conflict: doing so would
		// silently overwrite a remote value the client hasn't
		// reconciled. Entities rejected with a non-retryable error stay
		// out until an explicit MarkForSync re-enters them.
		if e.ConflictPending || e.SyncStatus == models.SyncStatusSynced ||
			e.SyncStatus == models.SyncStatusError {
			continue
		}
		work = append(work, workItem{entity: e, priority: item.Priority})
	}

	o.addProgressTotal(len(work))

	for start := 0; start < len(work); start += o.batchSize {
		if err := o.checkCancelled(ctx, cancel); err != nil {
			// Requeue the untouched remainder before aborting.
			for _, w := range work[start:] {
				o.queue.Enqueue(w.entity.UUID, w.priority)
			}
			return err
		}

		end := start + o.batchSize
		if end > len(work) {
			end = len(work)
		}
		chunk := work[start:end]

		records := make([]Record, len(chunk))
		for i, w := range chunk {
			records[i] = RecordFromEntity(w.entity)
		}

		var saveResults []SaveResult
		err := withRetry(ctx, o.retry, func() error {
			var saveErr error
			saveResults, saveErr = o.remote.SaveRecords(ctx, records, SavePolicyChangedKeys)
			return saveErr
		})
		if err != nil {
			for _, w := range chunk {
				o.queue.Enqueue(w.entity.UUID, w.priority)
			}
			return errors.Wrap(errors.ErrSyncFailed, "batch save failed", err)
		}

		for i, res := range saveResults {
			if i >= len(chunk) {
				break
			}
			w := chunk[i]
			e := w.entity
			if res.Err == nil {
				e.MarkSynced(res.RecordID, res.ChangeTag)
				if err := o.repo.UpdateEntity(e); err != nil {
					return err
				}
				result.Uploaded++
				continue
			}

			// Partial failure: the rest of the batch still commits.
			result.Errors++
			if errors.IsRetryable(res.Err) {
				o.queue.Enqueue(e.UUID, w.priority)
				logging.Warn("record save failed, requeued for retry",
					map[string]interface{}{"uuid": e.UUID, "error": res.Err.Error()})
			} else {
				e.SyncStatus = models.SyncStatusError
				if err := o.repo.UpdateEntity(e); err != nil {
					return err
				}
				logging.ErrorWithCode("record save rejected", string(errors.Code(res.Err)), res.Err,
					map[string]interface{}{"uuid": e.UUID})
			}
		}

		o.advanceProgress(len(chunk))
	}

	return nil
}

// pullWork selects the queue items this cycle will upload.
func (o *Orchestrator) pullWork(opts CycleOptions) []queue.Item {
	// A fresh session starts with an empty queue; rebuild it from the
	// store before pulling.
	if o.queue.Len() == 0 {
		pending, err := o.repo.FetchPendingSync(10000)
		if err != nil {
			logging.Warn("failed to rebuild queue from store", map[string]interface{}{"error": err.Error()})
		} else {
			o.queue.Rebuild(pending)
		}
	}

	limit := opts.MaxItems
	if limit <= 0 {
		limit = o.queue.Len()
	}

	return o.queue.DequeueMinimum(limit, opts.MinPriority)
}

// =====================================================
// Downloading
// =====================================================

// downloadChanges pages through the remote change feed from the
// watermark, persisting each page fully before advancing it.
func (o *Orchestrator) downloadChanges(ctx context.Context, cancel chan struct{}, result *SyncResult) error {
	watermark, err := o.repo.GetWatermark()
	if err != nil {
		return err
	}

	cursor := Cursor("")
	for {
		if err := o.checkCancelled(ctx, cancel); err != nil {
			return err
		}

		var records []Record
		var next Cursor
		err := withRetry(ctx, o.retry, func() error {
			var queryErr error
			records, next, queryErr = o.remote.QueryRecords(ctx, watermark, cursor, o.pageSize)
			return queryErr
		})
		if err != nil {
			if errors.Is(err, errors.ErrTokenExpired) {
				// Expired cursor: reset for a full resync next cycle.
				logging.Warn("change cursor expired, watermark reset", nil)
				return o.repo.ResetWatermark()
			}
			return errors.Wrap(errors.ErrSyncFailed, "change feed query failed", err)
		}

		if len(records) == 0 && next == "" {
			return nil
		}

		o.addProgressTotal(len(records))

		pageMax := watermark
		failedAt := int64(-1)
		for i := range records {
			rec := &records[i]
			if err := o.applyRemoteRecord(rec, result); err != nil {
				result.Errors++
				if failedAt < 0 || rec.ModifiedAt < failedAt {
					failedAt = rec.ModifiedAt
				}
				logging.Error("failed to apply remote record", err,
					map[string]interface{}{"uuid": rec.UUID})
				continue
			}
			if modified := time.Unix(rec.ModifiedAt, 0); modified.After(pageMax) {
				pageMax = modified
			}
		}
		o.advanceProgress(len(records))

		// A failed record must reappear in a later change-feed query,
		// so the watermark may not pass its modification time even when
		// a sibling in the same page landed with a later one.
		if failedAt >= 0 {
			if limit := time.Unix(failedAt-1, 0); pageMax.After(limit) {
				pageMax = limit
			}
		}

		// The page is fully persisted; the watermark may advance now
		// and never regresses.
		if err := o.repo.AdvanceWatermark(pageMax); err != nil {
			return err
		}

		if next == "" {
			return nil
		}
		cursor = next
	}
}

// applyRemoteRecord routes one downloaded record: materialize when
// unknown locally, otherwise merge against the local version.
func (o *Orchestrator) applyRemoteRecord(rec *Record, result *SyncResult) error {
	local, err := o.repo.GetEntity(rec.UUID)
	if err != nil {
		if !errors.Is(err, errors.ErrEntityNotFound) {
			return err
		}
		e := &models.Entity{
			UUID:          rec.UUID,
			RecordID:      rec.RecordID,
			SyncStatus:    models.SyncStatusSynced,
			LastModified:  rec.ModifiedAt,
			ChangeTag:     rec.ChangeTag,
			Fields:        rec.Fields.Clone(),
			FieldModified: rec.FieldModified,
			BaseFields:    rec.Fields.Clone(),
		}
		if err := o.repo.CreateEntity(e); err != nil {
			return err
		}
		result.Downloaded++
		return nil
	}

	// Identical change tag on a synced entity: nothing to do, and no
	// spurious conflict.
	if local.SyncStatus == models.SyncStatusSynced && local.ChangeTag == rec.ChangeTag {
		return nil
	}

	detector := o.resolver.Detector()

	if local.SyncStatus == models.SyncStatusSynced {
		// No local edits outstanding: the remote version wins outright.
		local.Fields = rec.Fields.Clone()
		local.FieldModified = rec.FieldModified
		local.LastModified = rec.ModifiedAt
		local.MarkSynced(rec.RecordID, rec.ChangeTag)
		if err := o.repo.UpdateEntity(local); err != nil {
			return err
		}
		result.Downloaded++
		return nil
	}

	conflicts := detector.Detect(local.Fields, rec.Fields)
	if len(conflicts) == 0 {
		// Values agree within tolerance; only metadata differs. Adopt
		// the remote tag so the next upload is not rejected as stale.
		local.RecordID = rec.RecordID
		local.ChangeTag = rec.ChangeTag
		return o.repo.UpdateEntity(local)
	}

	// Write-write conflict: flag the entity and open the audit entry.
	local.ConflictPending = true
	local.SyncStatus = models.SyncStatusConflict
	local.RecordID = rec.RecordID
	if err := o.repo.UpdateEntity(local); err != nil {
		return err
	}
	if err := o.openConflictIfNeeded(local, rec); err != nil {
		return err
	}
	logging.Warn("write-write conflict detected",
		map[string]interface{}{
			"uuid":   local.UUID,
			"fields": conflicts,
		})
	return nil
}

// openConflictIfNeeded creates the audit entry unless one is already
// open; at most one unresolved entry exists per entity.
func (o *Orchestrator) openConflictIfNeeded(e *models.Entity, rec *Record) error {
	open, err := o.repo.UnresolvedConflict(e.UUID)
	if err != nil {
		return err
	}
	if open != nil {
		return nil
	}
	return o.repo.OpenConflict(&models.ConflictHistoryEntry{
		EntityUUID:     e.UUID,
		Strategy:       string(o.resolver.Strategy()),
		ResolutionType: "pending",
		LocalSnapshot:  models.Snapshot(e.Fields),
		RemoteSnapshot: models.Snapshot(rec.Fields),
	})
}

// =====================================================
// Conflict resolution
// =====================================================

// resolveConflicts re-checks every flagged entity against the current
// remote version and applies the active strategy.
func (o *Orchestrator) resolveConflicts(ctx context.Context, cancel chan struct{}, result *SyncResult) error {
	flagged, err := o.repo.FetchConflicts()
	if err != nil {
		return err
	}
	if len(flagged) == 0 {
		return nil
	}

	o.addProgressTotal(len(flagged))

	for _, e := range flagged {
		if err := o.checkCancelled(ctx, cancel); err != nil {
			return err
		}

		if e.RecordID == "" {
			// A conflict without a remote identity cannot be re-checked.
			result.Errors++
			continue
		}

		var rec *Record
		fetchErr := withRetry(ctx, o.retry, func() error {
			var err error
			rec, err = o.remote.FetchRecord(ctx, e.RecordID)
			return err
		})
		if fetchErr != nil {
			if errors.Is(fetchErr, errors.ErrUnknownItem) {
				// The remote record vanished; the local version is all
				// that remains, so re-create it upstream.
				if err := o.finishResolution(e, "remote_missing", nil, true); err != nil {
					return err
				}
				result.Conflicts++
				o.advanceProgress(1)
				continue
			}
			result.Errors++
			logging.Error("failed to re-fetch conflicting record", fetchErr,
				map[string]interface{}{"uuid": e.UUID})
			o.advanceProgress(1)
			continue
		}

		res, err := o.resolveOne(e, rec)
		if err != nil {
			e.SyncStatus = models.SyncStatusError
			if updateErr := o.repo.UpdateEntity(e); updateErr != nil {
				return updateErr
			}
			result.Errors++
			logging.ErrorWithCode("conflict resolution failed", string(errors.Code(err)), err,
				map[string]interface{}{"uuid": e.UUID})
			o.advanceProgress(1)
			continue
		}
		if res != nil {
			result.Conflicts++
		}
		o.advanceProgress(1)
	}

	return nil
}

// resolveOne re-detects and, when the conflict is real, applies the
// active strategy. Returns nil when the flag was stale.
func (o *Orchestrator) resolveOne(e *models.Entity, rec *Record) (*conflict.Resolution, error) {
	conflicting := o.resolver.Detector().Detect(e.Fields, rec.Fields)
	if len(conflicting) == 0 {
		// The remote caught up (or never diverged); clear the flag.
		e.MarkSynced(rec.RecordID, rec.ChangeTag)
		if err := o.repo.UpdateEntity(e); err != nil {
			return nil, err
		}
		if err := o.repo.ResolveConflict(e.UUID, string(o.resolver.Strategy()), "no_conflict", nil); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}

	return o.ResolveConflict(e, *rec)
}

// ResolveConflict runs the active strategy for one entity against a
// remote record and applies the outcome. Exposed for UI-driven
// resolution of deferred conflicts.
func (o *Orchestrator) ResolveConflict(e *models.Entity, rec Record) (*conflict.Resolution, error) {
	local := conflict.Version{
		Fields:        e.Fields,
		FieldModified: e.FieldModified,
		LastModified:  e.LastModified,
	}
	remote := conflict.Version{
		Fields:        rec.Fields,
		FieldModified: rec.FieldModified,
		LastModified:  rec.ModifiedAt,
	}

	res, err := o.resolver.Resolve(local, remote, e.BaseFields)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case conflict.OutcomeUseLocal:
		if err := o.finishResolution(e, "use_local", nil, true); err != nil {
			return nil, err
		}

	case conflict.OutcomeUseRemote:
		e.Fields = rec.Fields.Clone()
		e.FieldModified = rec.FieldModified
		e.LastModified = rec.ModifiedAt
		e.MarkSynced(rec.RecordID, rec.ChangeTag)
		if err := o.repo.UpdateEntity(e); err != nil {
			return nil, err
		}
		if err := o.closeConflictEntry(e, "use_remote", models.Snapshot(e.Fields)); err != nil {
			return nil, err
		}

	case conflict.OutcomeMerge:
		e.Fields = res.Merged
		e.FieldModified = res.MergedModified
		e.LastModified = res.LastModified
		resolutionType := "merge"
		if n := len(res.Unresolved); n > 0 {
			resolutionType = fmt.Sprintf("merge_partial(%d)", n)
		}
		// The merge result may differ from both sides, so it goes back
		// up; the ancestor refreshes after that upload succeeds.
		if err := o.finishResolution(e, resolutionType, models.Snapshot(res.Merged), true); err != nil {
			return nil, err
		}

	case conflict.OutcomeDeferred:
		// Manual strategy: stays flagged until explicit user action.
		if err := o.openConflictIfNeeded(e, &rec); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// finishResolution clears the conflict flag, records the outcome, and
// optionally requeues the entity for upload.
func (o *Orchestrator) finishResolution(e *models.Entity, resolutionType string, merged []byte, requeue bool) error {
	e.ConflictPending = false
	e.SyncStatus = models.SyncStatusPendingUpload
	e.LastModified = time.Now().Unix()
	if err := o.repo.UpdateEntity(e); err != nil {
		return err
	}
	if err := o.closeConflictEntry(e, resolutionType, merged); err != nil {
		return err
	}
	if requeue {
		o.queue.Enqueue(e.UUID, queue.PriorityHigh)
	}
	return nil
}

// closeConflictEntry resolves the open audit entry, tolerating the
// case where none was ever opened.
func (o *Orchestrator) closeConflictEntry(e *models.Entity, resolutionType string, merged []byte) error {
	err := o.repo.ResolveConflict(e.UUID, string(o.resolver.Strategy()), resolutionType, merged)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return nil
}

// =====================================================
// Internal plumbing
// =====================================================

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	o.emit(Event{Type: EventPhaseChanged, Phase: phase})
	logging.Debug("sync phase changed", map[string]interface{}{"phase": phase})
}

func (o *Orchestrator) addProgressTotal(n int) {
	o.mu.Lock()
	o.progressTotal += n
	done, total := o.progressDone, o.progressTotal
	o.mu.Unlock()
	o.emit(Event{Type: EventProgress, Completed: done, Total: total})
}

func (o *Orchestrator) advanceProgress(n int) {
	o.mu.Lock()
	o.progressDone += n
	done, total := o.progressDone, o.progressTotal
	o.mu.Unlock()
	o.emit(Event{Type: EventProgress, Completed: done, Total: total})
}

// checkCancelled tests the cooperative cancellation signal and the
// caller's context between phases and pages, never mid-batch.
func (o *Orchestrator) checkCancelled(ctx context.Context, cancel chan struct{}) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrSyncCancelled, "sync cancelled", ctx.Err())
	case <-cancel:
		return errors.New(errors.ErrSyncCancelled, "sync cancelled")
	default:
		return nil
	}
}

func (o *Orchestrator) emit(event Event) {
	o.mu.Lock()
	handler := o.handler
	events := o.events
	o.mu.Unlock()
	if handler == nil || events == nil {
		return
	}
	events <- event
}
