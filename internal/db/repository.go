// Package db provides CRUD repository operations for sync engine data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/models"
	"github.com/jubileebay/jubileesync/internal/uuid"
)

// Keys in the sync_state table.
const (
	StateKeyWatermark             = "download_watermark"
	StateKeyLastSyncDate          = "last_sync_date"
	StateKeyBackgroundSyncEnabled = "background_sync_enabled"
	StateKeySyncInterval          = "sync_interval_seconds"
)

// Repository provides CRUD operations for all models. All mutations run
// on the store's single serialized connection.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Entity Operations
// =====================================================

const entityColumns = `uuid, record_id, sync_status, last_modified, change_tag,
	conflict_pending, fields, field_modified, base_fields, created_at, updated_at`

// CreateEntity inserts a locally created entity. A missing UUID is
// generated; a new local entity starts as pending upload.
func (r *Repository) CreateEntity(e *models.Entity) error {
	now := time.Now().Unix()
	if e.UUID == "" {
		e.UUID = models.UUID(uuid.New())
	}
	if e.SyncStatus == "" {
		e.SyncStatus = models.SyncStatusPendingUpload
	}
	if e.LastModified == 0 {
		e.LastModified = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	fields, fieldMod, baseFields, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO entities (` + entityColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, e.UUID, e.RecordID, e.SyncStatus, e.LastModified,
		e.ChangeTag, e.ConflictPending, fields, fieldMod, baseFields,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to create entity", err)
	}
	return nil
}

// GetEntity retrieves an entity by client UUID.
func (r *Repository) GetEntity(id models.UUID) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE uuid = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	e, err := scanEntity(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrEntityNotFound, string(id))
	}
	return e, err
}

// UpdateEntity persists the full entity row, including sync metadata.
func (r *Repository) UpdateEntity(e *models.Entity) error {
	e.UpdatedAt = time.Now().Unix()

	fields, fieldMod, baseFields, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	query := `
	UPDATE entities SET record_id = ?, sync_status = ?, last_modified = ?,
		change_tag = ?, conflict_pending = ?, fields = ?, field_modified = ?,
		base_fields = ?, updated_at = ?
	WHERE uuid = ?
	`
	res, err := r.db.Exec(query, e.RecordID, e.SyncStatus, e.LastModified,
		e.ChangeTag, e.ConflictPending, fields, fieldMod, baseFields,
		e.UpdatedAt, e.UUID)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to update entity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrEntityNotFound, string(e.UUID))
	}
	return nil
}

// FetchPendingSync returns entities not yet synced, oldest modification
// first so retries preserve causal order.
func (r *Repository) FetchPendingSync(limit int) ([]*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities
	WHERE sync_status != ? ORDER BY last_modified ASC LIMIT ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(models.SyncStatusSynced, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to fetch pending entities", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// FetchConflicts returns entities flagged for conflict resolution.
func (r *Repository) FetchConflicts() ([]*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities
	WHERE conflict_pending = 1 ORDER BY last_modified ASC`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to fetch conflicts", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// MarkForSync flags an entity as pending upload and bumps LastModified.
// The change tag is deliberately untouched.
func (r *Repository) MarkForSync(id models.UUID) error {
	now := time.Now().Unix()
	query := `UPDATE entities SET sync_status = ?, last_modified = ?, updated_at = ? WHERE uuid = ?`
	res, err := r.db.Exec(query, models.SyncStatusPendingUpload, now, now, id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to mark entity for sync", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrEntityNotFound, string(id))
	}
	return nil
}

// CountPending returns the number of entities awaiting sync.
func (r *Repository) CountPending() (int, error) {
	stmt, err := r.PrepareStmt(`SELECT COUNT(*) FROM entities WHERE sync_status != ?`)
	if err != nil {
		return 0, err
	}
	var count int
	err = stmt.QueryRow(models.SyncStatusSynced).Scan(&count)
	return count, err
}

func marshalEntityJSON(e *models.Entity) (fields, fieldMod string, baseFields interface{}, err error) {
	f, err := json.Marshal(e.Fields)
	if err != nil {
		return "", "", nil, errors.Wrap(errors.ErrInvalid, "failed to marshal fields", err)
	}
	fm, err := json.Marshal(e.FieldModified)
	if err != nil {
		return "", "", nil, errors.Wrap(errors.ErrInvalid, "failed to marshal field stamps", err)
	}
	if e.BaseFields == nil {
		return string(f), string(fm), nil, nil
	}
	bf, err := json.Marshal(e.BaseFields)
	if err != nil {
		return "", "", nil, errors.Wrap(errors.ErrInvalid, "failed to marshal base fields", err)
	}
	return string(f), string(fm), string(bf), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var fields, fieldMod string
	var baseFields sql.NullString
	err := row.Scan(&e.UUID, &e.RecordID, &e.SyncStatus, &e.LastModified,
		&e.ChangeTag, &e.ConflictPending, &fields, &fieldMod, &baseFields,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "corrupt fields payload", err)
	}
	if err := json.Unmarshal([]byte(fieldMod), &e.FieldModified); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "corrupt field stamps payload", err)
	}
	normalizeFieldMap(e.Fields)
	if baseFields.Valid {
		if err := json.Unmarshal([]byte(baseFields.String), &e.BaseFields); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "corrupt base fields payload", err)
		}
		normalizeFieldMap(e.BaseFields)
	}
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*models.Entity, error) {
	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// normalizeFieldMap rewrites JSON-decoded values into the canonical
// in-memory representations ([]string sets, map[string]float64 readings).
func normalizeFieldMap(m models.FieldMap) {
	for k, v := range m {
		switch tv := v.(type) {
		case []interface{}:
			set := make([]string, 0, len(tv))
			for _, item := range tv {
				if s, ok := item.(string); ok {
					set = append(set, s)
				}
			}
			m[k] = set
		case map[string]interface{}:
			nm := make(map[string]float64, len(tv))
			for mk, mv := range tv {
				if f, ok := mv.(float64); ok {
					nm[mk] = f
				}
			}
			m[k] = nm
		}
	}
}

// =====================================================
// Conflict History Operations
// =====================================================

// OpenConflict records a newly detected conflict. The partial unique
// index rejects a second unresolved entry for the same entity.
func (r *Repository) OpenConflict(entry *models.ConflictHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.OccurredAt == 0 {
		entry.OccurredAt = time.Now().Unix()
	}

	query := `
	INSERT INTO conflict_history (id, entity_uuid, occurred_at, resolved_at,
		strategy, resolution_type, local_snapshot, remote_snapshot, merged_snapshot)
	VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, entry.ID, entry.EntityUUID, entry.OccurredAt,
		entry.Strategy, entry.ResolutionType,
		nullableJSON(entry.LocalSnapshot), nullableJSON(entry.RemoteSnapshot),
		nullableJSON(entry.MergedSnapshot))
	if err != nil {
		return errors.Wrap(errors.ErrConstraint, "failed to open conflict entry", err)
	}
	return nil
}

// ResolveConflict closes the unresolved entry for an entity, recording
// the outcome and the merged snapshot. Entries are updated once and
// never mutated afterward.
func (r *Repository) ResolveConflict(entityUUID models.UUID, strategy, resolutionType string, merged json.RawMessage) error {
	query := `
	UPDATE conflict_history SET resolved_at = ?, strategy = ?, resolution_type = ?, merged_snapshot = ?
	WHERE entity_uuid = ? AND resolved_at IS NULL
	`
	res, err := r.db.Exec(query, time.Now().Unix(), strategy, resolutionType,
		nullableJSON(merged), entityUUID)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to resolve conflict entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrNotFound, "no open conflict for entity "+string(entityUUID))
	}
	return nil
}

// UnresolvedConflict returns the open conflict entry for an entity, or
// nil when none exists.
func (r *Repository) UnresolvedConflict(entityUUID models.UUID) (*models.ConflictHistoryEntry, error) {
	query := `
	SELECT id, entity_uuid, occurred_at, resolved_at, strategy, resolution_type,
		local_snapshot, remote_snapshot, merged_snapshot
	FROM conflict_history WHERE entity_uuid = ? AND resolved_at IS NULL
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	entry, err := scanConflictEntry(stmt.QueryRow(entityUUID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// ListConflictHistory returns the audit trail for an entity, oldest first.
func (r *Repository) ListConflictHistory(entityUUID models.UUID) ([]*models.ConflictHistoryEntry, error) {
	query := `
	SELECT id, entity_uuid, occurred_at, resolved_at, strategy, resolution_type,
		local_snapshot, remote_snapshot, merged_snapshot
	FROM conflict_history WHERE entity_uuid = ? ORDER BY occurred_at ASC
	`
	rows, err := r.db.Query(query, entityUUID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list conflict history", err)
	}
	defer rows.Close()

	var entries []*models.ConflictHistoryEntry
	for rows.Next() {
		entry, err := scanConflictEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanConflictEntry(row rowScanner) (*models.ConflictHistoryEntry, error) {
	var entry models.ConflictHistoryEntry
	var resolvedAt sql.NullInt64
	var local, remote, merged sql.NullString
	err := row.Scan(&entry.ID, &entry.EntityUUID, &entry.OccurredAt, &resolvedAt,
		&entry.Strategy, &entry.ResolutionType, &local, &remote, &merged)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		v := resolvedAt.Int64
		entry.ResolvedAt = &v
	}
	if local.Valid {
		entry.LocalSnapshot = json.RawMessage(local.String)
	}
	if remote.Valid {
		entry.RemoteSnapshot = json.RawMessage(remote.String)
	}
	if merged.Valid {
		entry.MergedSnapshot = json.RawMessage(merged.String)
	}
	return &entry, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// =====================================================
// Sync State (watermark and scalar settings)
// =====================================================

// GetState returns the value for a sync_state key, or "" when unset.
func (r *Repository) GetState(key string) (string, error) {
	stmt, err := r.PrepareStmt(`SELECT value FROM sync_state WHERE key = ?`)
	if err != nil {
		return "", err
	}
	var value string
	err = stmt.QueryRow(key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState upserts a sync_state key.
func (r *Repository) SetState(key, value string) error {
	query := `
	INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, key, value, time.Now().Unix())
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to set sync state", err)
	}
	return nil
}

// BackgroundSyncEnabled reports the persisted background-sync toggle,
// true when never set.
func (r *Repository) BackgroundSyncEnabled() (bool, error) {
	value, err := r.GetState(StateKeyBackgroundSyncEnabled)
	if err != nil {
		return false, err
	}
	if value == "" {
		return true, nil
	}
	return value == "1" || value == "true", nil
}

// SetBackgroundSyncEnabled persists the background-sync toggle.
func (r *Repository) SetBackgroundSyncEnabled(enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	return r.SetState(StateKeyBackgroundSyncEnabled, value)
}

// SyncIntervalSetting returns the persisted periodic sync interval,
// zero when never set.
func (r *Repository) SyncIntervalSetting() (time.Duration, error) {
	value, err := r.GetState(StateKeySyncInterval)
	if err != nil || value == "" {
		return 0, err
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "corrupt sync interval", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// SetSyncIntervalSetting persists the periodic sync interval.
func (r *Repository) SetSyncIntervalSetting(interval time.Duration) error {
	secs := int64(interval / time.Second)
	return r.SetState(StateKeySyncInterval, strconv.FormatInt(secs, 10))
}

// GetWatermark returns the download watermark, zero when never synced.
func (r *Repository) GetWatermark() (time.Time, error) {
	value, err := r.GetState(StateKeyWatermark)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrDatabase, "corrupt watermark", err)
	}
	return time.Unix(secs, 0), nil
}

// AdvanceWatermark moves the watermark forward. A value at or behind
// the stored watermark is ignored so the watermark never regresses.
func (r *Repository) AdvanceWatermark(to time.Time) error {
	current, err := r.GetWatermark()
	if err != nil {
		return err
	}
	if !to.After(current) {
		return nil
	}
	return r.SetState(StateKeyWatermark, strconv.FormatInt(to.Unix(), 10))
}

// ResetWatermark clears the watermark after a change-token expiry so
// the next cycle performs a full resync.
func (r *Repository) ResetWatermark() error {
	return r.SetState(StateKeyWatermark, "0")
}
