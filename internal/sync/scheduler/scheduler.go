// Package scheduler decides whether and when a sync cycle may run,
// independent of how the orchestrator runs it.
package scheduler

import (
	"context"
	gosync "sync"
	"time"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/logging"
	syncpkg "github.com/jubileebay/jubileesync/internal/sync"
	"github.com/jubileebay/jubileesync/internal/sync/queue"
)

// NetworkStatus classifies the current connection.
type NetworkStatus string

const (
	NetworkNone     NetworkStatus = "none"
	NetworkWiFi     NetworkStatus = "wifi"
	NetworkCellular NetworkStatus = "cellular"
)

// DeviceState is a snapshot of the resource constraints that gate sync.
type DeviceState struct {
	BatteryLevel float64 // 0.0 - 1.0
	Charging     bool
	Network      NetworkStatus
}

// DeviceStateProvider supplies the current device state. The host
// platform implements this; tests use a fixed snapshot.
type DeviceStateProvider interface {
	State() DeviceState
}

// TriggerKind names the sync window a host trigger fires.
type TriggerKind string

const (
	// TriggerLightweight is the periodic window: high-priority items
	// only, small cap.
	TriggerLightweight TriggerKind = "lightweight"
	// TriggerBulk is the heavy window: all tiers, large cap.
	TriggerBulk TriggerKind = "bulk"
	// TriggerUser is an explicit user request; resource gating does
	// not apply.
	TriggerUser TriggerKind = "user"
)

// PendingCounter reports how many entities await sync. The entity
// store's repository satisfies this.
type PendingCounter interface {
	CountPending() (int, error)
}

// Config holds scheduler policy knobs.
type Config struct {
	SyncInterval        time.Duration // lightweight cadence (default: 6 hours)
	LightweightMaxItems int           // cap per lightweight window (default: 20)
	BulkMaxItems        int           // cap per bulk window (default: 500)
	BulkThreshold       int           // pending count that warrants a bulk window (default: 50)
	BulkPowerThreshold  int           // pending count above which bulk requires external power (default: 200)
	BulkWindowHour      int           // preferred local hour for bulk windows (default: 2)
	CellularSyncEnabled bool          // user opt-in for sync on metered connections
}

// DefaultConfig returns the default scheduler policy.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:        6 * time.Hour,
		LightweightMaxItems: 20,
		BulkMaxItems:        500,
		BulkThreshold:       50,
		BulkPowerThreshold:  200,
		BulkWindowHour:      2,
	}
}

// Scheduler arms sync windows and gates them on device state. The
// actual cycle is delegated to the orchestrator.
type Scheduler struct {
	syncer  syncpkg.Syncer
	pending PendingCounter
	device  DeviceStateProvider
	config  *Config

	mu            gosync.Mutex
	isRunning     bool
	stopCh        chan struct{}
	wg            gosync.WaitGroup
	periodicTimer *time.Timer
	bulkTimer     *time.Timer
	bulkArmed     bool
	lastAttempt   time.Time
	syncing       bool
}

// NewScheduler creates a Scheduler. Dependencies are injected; nothing
// is shared implicitly.
func NewScheduler(syncer syncpkg.Syncer, pending PendingCounter, device DeviceStateProvider, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		syncer:  syncer,
		pending: pending,
		device:  device,
		config:  config,
	}
}

// ShouldSync reports whether device conditions currently permit a
// background sync. All checks must pass: battery (>=20% or charging),
// connectivity, and cellular opt-in on metered connections.
func (s *Scheduler) ShouldSync() bool {
	state := s.device.State()

	if state.BatteryLevel < 0.20 && !state.Charging {
		logging.Debug("sync gated: battery too low",
			map[string]interface{}{"battery": state.BatteryLevel})
		return false
	}
	if state.Network == NetworkNone {
		logging.Debug("sync gated: no connectivity", nil)
		return false
	}
	if state.Network == NetworkCellular && !s.config.CellularSyncEnabled {
		logging.Debug("sync gated: cellular without opt-in", nil)
		return false
	}
	return true
}

// Start arms the self-renewing periodic window and begins watching for
// bulk-window conditions.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.periodicTimer = time.NewTimer(s.config.SyncInterval)
	// Created disarmed so the loop can watch a stable channel.
	s.bulkTimer = time.NewTimer(time.Hour)
	if !s.bulkTimer.Stop() {
		<-s.bulkTimer.C
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("background sync scheduler started",
		map[string]interface{}{"interval": s.config.SyncInterval.String()})
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.periodicTimer.Stop()
	if s.bulkTimer != nil {
		s.bulkTimer.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info("background sync scheduler stopped", nil)
}

// loop services the periodic and bulk timers.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		periodic := s.periodicTimer.C
		bulk := s.bulkTimer.C
		stop := s.stopCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-periodic:
			s.HandleTrigger(ctx, TriggerLightweight)
		case <-bulk:
			s.mu.Lock()
			s.bulkArmed = false
			s.mu.Unlock()
			s.HandleTrigger(ctx, TriggerBulk)
		}
	}
}

// HandleTrigger runs one sync attempt for the given window. This is
// the host-independent entry point: the internal timer loop, an OS
// background task, or a cron job may all invoke it.
func (s *Scheduler) HandleTrigger(ctx context.Context, kind TriggerKind) {
	// Re-arm first so a failed or gated attempt never silently loses
	// the next opportunity.
	if kind == TriggerLightweight {
		defer s.rearmPeriodic(s.config.SyncInterval)
	}

	if kind != TriggerUser && !s.ShouldSync() {
		return
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		logging.Debug("sync already in progress, skipping trigger",
			map[string]interface{}{"kind": kind})
		return
	}
	s.syncing = true
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	opts := s.optionsFor(kind)
	result, err := s.syncer.SyncWithOptions(ctx, opts)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadySyncing) {
			return
		}
		logging.ErrorWithCode("scheduled sync failed", string(errors.Code(err)), err,
			map[string]interface{}{"kind": kind})
		return
	}

	logging.Info("scheduled sync completed",
		map[string]interface{}{
			"kind":       kind,
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
			"conflicts":  result.Conflicts,
		})

	if kind != TriggerBulk {
		s.MaybeScheduleBulk()
	}
}

// optionsFor maps a trigger kind to cycle bounds: lightweight windows
// carry only high-priority work, bulk windows drain everything up to
// the execution-time cap.
func (s *Scheduler) optionsFor(kind TriggerKind) syncpkg.CycleOptions {
	switch kind {
	case TriggerLightweight:
		return syncpkg.CycleOptions{
			MaxItems:    s.config.LightweightMaxItems,
			MinPriority: queue.PriorityHigh,
		}
	case TriggerBulk:
		return syncpkg.CycleOptions{
			MaxItems:    s.config.BulkMaxItems,
			MinPriority: queue.PriorityLow,
		}
	default:
		return syncpkg.CycleOptions{}
	}
}

// MaybeScheduleBulk arms a bulk window when the backlog warrants one.
// Very large backlogs additionally require external power, and the
// window lands on the next low-usage hour rather than firing
// immediately.
func (s *Scheduler) MaybeScheduleBulk() {
	count, err := s.pending.CountPending()
	if err != nil {
		logging.Warn("failed to count pending items", map[string]interface{}{"error": err.Error()})
		return
	}
	if count <= s.config.BulkThreshold {
		return
	}

	state := s.device.State()
	if state.Network == NetworkNone {
		return
	}
	if count > s.config.BulkPowerThreshold && !state.Charging {
		logging.Debug("bulk sync deferred: requires external power",
			map[string]interface{}{"pending": count})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning || s.bulkArmed {
		return
	}

	delay := untilNextHour(time.Now(), s.config.BulkWindowHour)
	if !s.bulkTimer.Stop() {
		select {
		case <-s.bulkTimer.C:
		default:
		}
	}
	s.bulkTimer.Reset(delay)
	s.bulkArmed = true

	logging.Info("bulk sync window armed",
		map[string]interface{}{
			"pending": count,
			"delay":   delay.String(),
		})
}

// TriggerSync runs a user-initiated sync immediately, bypassing
// resource gating.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	s.HandleTrigger(ctx, TriggerUser)
}

// Preempt handles expiration of the host's execution budget: the
// running cycle is cancelled cooperatively and the next periodic
// attempt is armed immediately so no sync opportunity is lost.
func (s *Scheduler) Preempt() {
	s.syncer.CancelPendingSync()
	s.rearmPeriodic(time.Second)
	logging.Warn("sync preempted by host, rescheduled immediately", nil)
}

// rearmPeriodic resets the periodic timer. The timer is self-renewing:
// every attempt, successful or not, arms the next one.
func (s *Scheduler) rearmPeriodic(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	if !s.periodicTimer.Stop() {
		select {
		case <-s.periodicTimer.C:
		default:
		}
	}
	s.periodicTimer.Reset(d)
}

// untilNextHour computes the delay from now to the next occurrence of
// the given local hour.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// Status reports the scheduler's current state.
type Status struct {
	IsRunning   bool
	Syncing     bool
	BulkArmed   bool
	LastAttempt *time.Time
	LastSync    *time.Time
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning: s.isRunning,
		Syncing:   s.syncing,
		BulkArmed: s.bulkArmed,
		LastSync:  s.syncer.LastSync(),
	}
	if !s.lastAttempt.IsZero() {
		t := s.lastAttempt
		status.LastAttempt = &t
	}
	return status
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
