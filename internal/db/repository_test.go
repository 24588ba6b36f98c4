// Package db tests for the entity repository, conflict history, and
// sync state storage.
package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/models"
)

// setupTestRepo creates an in-memory migrated store for testing.
func setupTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	repo := NewRepository(database.DB)
	cleanup := func() {
		repo.Close()
		database.Close()
	}
	return repo, cleanup
}

func sampleEntity() *models.Entity {
	return &models.Entity{
		SyncStatus:   models.SyncStatusPendingUpload,
		LastModified: time.Now().Unix(),
		Fields: models.FieldMap{
			"species":     []string{"flounder", "shrimp"},
			"intensity":   "Moderate",
			"description": "foam line along the beach",
			"latitude":    30.6954,
			"longitude":   -88.0399,
			"readings":    map[string]float64{"dissolvedOxygen": 1.1, "salinity": 18.5},
		},
		FieldModified: map[string]int64{"intensity": time.Now().Unix()},
	}
}

func TestCreateAndGetEntity(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	e := sampleEntity()
	if err := repo.CreateEntity(e); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if e.UUID == "" {
		t.Fatal("CreateEntity should generate a UUID")
	}

	got, err := repo.GetEntity(e.UUID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusPendingUpload {
		t.Errorf("SyncStatus = %v, want %v", got.SyncStatus, models.SyncStatusPendingUpload)
	}
	if got.Fields["intensity"] != "Moderate" {
		t.Errorf("Fields[intensity] = %v, want Moderate", got.Fields["intensity"])
	}

	// JSON round trip must restore the canonical in-memory types.
	species, ok := got.Fields["species"].([]string)
	if !ok || len(species) != 2 {
		t.Errorf("Fields[species] = %v (%T), want a 2-element []string", got.Fields["species"], got.Fields["species"])
	}
	readings, ok := got.Fields["readings"].(map[string]float64)
	if !ok || readings["salinity"] != 18.5 {
		t.Errorf("Fields[readings] = %v (%T), want map[string]float64", got.Fields["readings"], got.Fields["readings"])
	}
	if got.FieldModified["intensity"] == 0 {
		t.Error("FieldModified should survive the round trip")
	}
}

func TestGetEntityNotFound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	_, err := repo.GetEntity("00000000-0000-4000-8000-000000000000")
	if err == nil {
		t.Fatal("GetEntity should fail for an unknown UUID")
	}
	if errors.Code(err) != errors.ErrEntityNotFound {
		t.Errorf("error code = %v, want %v", errors.Code(err), errors.ErrEntityNotFound)
	}
}

func TestUpdateEntityPersistsBaseFields(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	e := sampleEntity()
	if err := repo.CreateEntity(e); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	e.MarkSynced("rec-42", "tag-7")
	if err := repo.UpdateEntity(e); err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}

	got, err := repo.GetEntity(e.UUID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.RecordID != "rec-42" || got.ChangeTag != "tag-7" {
		t.Errorf("RecordID/ChangeTag = %q/%q, want rec-42/tag-7", got.RecordID, got.ChangeTag)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("SyncStatus = %v, want synced", got.SyncStatus)
	}
	if got.BaseFields == nil {
		t.Fatal("BaseFields should persist after MarkSynced")
	}
	if got.BaseFields["intensity"] != "Moderate" {
		t.Errorf("BaseFields[intensity] = %v, want Moderate", got.BaseFields["intensity"])
	}
}

func TestUpdateEntityNotFound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	e := sampleEntity()
	e.UUID = "11111111-1111-4111-8111-111111111111"
	err := repo.UpdateEntity(e)
	if errors.Code(err) != errors.ErrEntityNotFound {
		t.Errorf("error code = %v, want %v", errors.Code(err), errors.ErrEntityNotFound)
	}
}

func TestFetchPendingSyncOrdersOldestFirst(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	newer := sampleEntity()
	newer.LastModified = 2000
	if err := repo.CreateEntity(newer); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	older := sampleEntity()
	older.LastModified = 1000
	if err := repo.CreateEntity(older); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	synced := sampleEntity()
	synced.SyncStatus = models.SyncStatusSynced
	if err := repo.CreateEntity(synced); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	pending, err := repo.FetchPendingSync(10)
	if err != nil {
		t.Fatalf("FetchPendingSync failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("FetchPendingSync returned %d entities, want 2", len(pending))
	}
	if pending[0].UUID != older.UUID {
		t.Errorf("pending[0] = %s, want the older entity %s", pending[0].UUID, older.UUID)
	}
}

func TestMarkForSyncKeepsChangeTag(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	e := sampleEntity()
	if err := repo.CreateEntity(e); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	e.MarkSynced("rec-1", "tag-1")
	if err := repo.UpdateEntity(e); err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}

	if err := repo.MarkForSync(e.UUID); err != nil {
		t.Fatalf("MarkForSync failed: %v", err)
	}

	got, err := repo.GetEntity(e.UUID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusPendingUpload {
		t.Errorf("SyncStatus = %v, want pending_upload", got.SyncStatus)
	}
	if got.ChangeTag != "tag-1" {
		t.Errorf("ChangeTag = %q, want tag-1 preserved for optimistic locking", got.ChangeTag)
	}
}

func TestCountPending(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := repo.CreateEntity(sampleEntity()); err != nil {
			t.Fatalf("CreateEntity failed: %v", err)
		}
	}
	synced := sampleEntity()
	synced.SyncStatus = models.SyncStatusSynced
	if err := repo.CreateEntity(synced); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	count, err := repo.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountPending = %d, want 3", count)
	}
}

// =====================================================
// Conflict history
// =====================================================

func TestConflictHistoryLifecycle(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	e := sampleEntity()
	if err := repo.CreateEntity(e); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	entry := &models.ConflictHistoryEntry{
		EntityUUID:     e.UUID,
		Strategy:       "three_way_merge",
		LocalSnapshot:  json.RawMessage(`{"intensity":"Major"}`),
		RemoteSnapshot: json.RawMessage(`{"intensity":"Minor"}`),
	}
	if err := repo.OpenConflict(entry); err != nil {
		t.Fatalf("OpenConflict failed: %v", err)
	}

	open, err := repo.UnresolvedConflict(e.UUID)
	if err != nil {
		t.Fatalf("UnresolvedConflict failed: %v", err)
	}
	if open == nil {
		t.Fatal("UnresolvedConflict returned nil for an open conflict")
	}
	if open.Resolved() {
		t.Error("entry should not read as resolved before ResolveConflict")
	}

	// A second unresolved entry for the same entity must be rejected.
	dup := &models.ConflictHistoryEntry{EntityUUID: e.UUID, Strategy: "three_way_merge"}
	if err := repo.OpenConflict(dup); err == nil {
		t.Error("OpenConflict should reject a second open entry for the same entity")
	}

	merged := json.RawMessage(`{"intensity":"Major"}`)
	if err := repo.ResolveConflict(e.UUID, "three_way_merge", "merge", merged); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}

	open, err = repo.UnresolvedConflict(e.UUID)
	if err != nil {
		t.Fatalf("UnresolvedConflict failed: %v", err)
	}
	if open != nil {
		t.Error("UnresolvedConflict should return nil after resolution")
	}

	history, err := repo.ListConflictHistory(e.UUID)
	if err != nil {
		t.Fatalf("ListConflictHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(history))
	}
	if !history[0].Resolved() {
		t.Error("history entry should read as resolved")
	}
	if history[0].ResolutionType != "merge" {
		t.Errorf("ResolutionType = %q, want merge", history[0].ResolutionType)
	}
}

func TestResolveConflictWithoutOpenEntry(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	err := repo.ResolveConflict("22222222-2222-4222-8222-222222222222", "manual", "use_local", nil)
	if errors.Code(err) != errors.ErrNotFound {
		t.Errorf("error code = %v, want %v", errors.Code(err), errors.ErrNotFound)
	}
}

// =====================================================
// Sync state and watermark
// =====================================================

func TestSyncStateUpsert(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	value, err := repo.GetState(StateKeyLastSyncDate)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if value != "" {
		t.Errorf("GetState = %q for unset key, want empty", value)
	}

	if err := repo.SetState(StateKeyLastSyncDate, "1700000000"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if err := repo.SetState(StateKeyLastSyncDate, "1700000500"); err != nil {
		t.Fatalf("SetState upsert failed: %v", err)
	}

	value, err = repo.GetState(StateKeyLastSyncDate)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if value != "1700000500" {
		t.Errorf("GetState = %q, want 1700000500", value)
	}
}

func TestBackgroundSyncSetting(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	enabled, err := repo.BackgroundSyncEnabled()
	if err != nil {
		t.Fatalf("BackgroundSyncEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("background sync should default to enabled")
	}

	if err := repo.SetBackgroundSyncEnabled(false); err != nil {
		t.Fatalf("SetBackgroundSyncEnabled failed: %v", err)
	}
	enabled, err = repo.BackgroundSyncEnabled()
	if err != nil {
		t.Fatalf("BackgroundSyncEnabled failed: %v", err)
	}
	if enabled {
		t.Error("background sync should be disabled after SetBackgroundSyncEnabled(false)")
	}

	if err := repo.SetBackgroundSyncEnabled(true); err != nil {
		t.Fatalf("SetBackgroundSyncEnabled failed: %v", err)
	}
	enabled, err = repo.BackgroundSyncEnabled()
	if err != nil {
		t.Fatalf("BackgroundSyncEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("background sync should be enabled after SetBackgroundSyncEnabled(true)")
	}
}

func TestSyncIntervalSetting(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	interval, err := repo.SyncIntervalSetting()
	if err != nil {
		t.Fatalf("SyncIntervalSetting failed: %v", err)
	}
	if interval != 0 {
		t.Errorf("unset interval = %v, want 0", interval)
	}

	if err := repo.SetSyncIntervalSetting(6 * time.Hour); err != nil {
		t.Fatalf("SetSyncIntervalSetting failed: %v", err)
	}
	interval, err = repo.SyncIntervalSetting()
	if err != nil {
		t.Fatalf("SyncIntervalSetting failed: %v", err)
	}
	if interval != 6*time.Hour {
		t.Errorf("interval = %v, want 6h", interval)
	}
}

func TestWatermarkNeverRegresses(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	wm, err := repo.GetWatermark()
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("initial watermark = %v, want zero", wm)
	}

	t1 := time.Unix(1700000000, 0)
	t2 := time.Unix(1700000600, 0)

	if err := repo.AdvanceWatermark(t2); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}
	// Moving backward is silently ignored.
	if err := repo.AdvanceWatermark(t1); err != nil {
		t.Fatalf("AdvanceWatermark backward failed: %v", err)
	}

	wm, err = repo.GetWatermark()
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if !wm.Equal(t2) {
		t.Errorf("watermark = %v, want %v", wm, t2)
	}
}

func TestResetWatermark(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	if err := repo.AdvanceWatermark(time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}
	if err := repo.ResetWatermark(); err != nil {
		t.Fatalf("ResetWatermark failed: %v", err)
	}

	wm, err := repo.GetWatermark()
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if wm.Unix() != 0 {
		t.Errorf("watermark = %v after reset, want unix zero", wm)
	}
}
