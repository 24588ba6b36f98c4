// Package models provides data model definitions for the sync engine.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncStatus represents the synchronization state of an entity.
type SyncStatus string

const (
	SyncStatusSynced          SyncStatus = "synced"
	SyncStatusPendingUpload   SyncStatus = "pending_upload"
	SyncStatusPendingDownload SyncStatus = "pending_download"
	SyncStatusConflict        SyncStatus = "conflict"
	SyncStatusError           SyncStatus = "error"
)

// FieldMap holds an entity's domain content as a flat field map.
// Values are JSON-compatible: string, float64, int64, []string,
// map[string]float64.
type FieldMap map[string]interface{}

// Entity represents a domain record subject to offline-first sync.
// UUID is the stable client identifier; RecordID is the remote store's
// identifier and stays empty until the first successful upload.
type Entity struct {
	UUID            UUID       `db:"uuid" json:"uuid"`
	RecordID        string     `db:"record_id" json:"record_id,omitempty"`
	SyncStatus      SyncStatus `db:"sync_status" json:"sync_status"`
	LastModified    int64      `db:"last_modified" json:"last_modified"`
	ChangeTag       string     `db:"change_tag" json:"change_tag,omitempty"`
	ConflictPending bool       `db:"conflict_pending" json:"conflict_pending"`

	Fields FieldMap `db:"fields" json:"fields"`

	// FieldModified records the last local modification time of each
	// field, driving field-level merge decisions.
	FieldModified map[string]int64 `db:"field_modified" json:"field_modified,omitempty"`

	// BaseFields is the snapshot of Fields at the last successful sync,
	// used as the common ancestor for three-way merge. Nil when no
	// ancestor is known.
	BaseFields FieldMap `db:"base_fields" json:"base_fields,omitempty"`

	CreatedAt int64 `db:"created_at" json:"created_at"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Entity.
func (Entity) TableName() string {
	return "entities"
}

// LastModifiedTime returns LastModified as time.Time.
func (e *Entity) LastModifiedTime() time.Time {
	return time.Unix(e.LastModified, 0)
}

// SetField records a local edit: the value is stored, the per-field
// modification stamp and LastModified advance, and the entity becomes
// pending for upload.
func (e *Entity) SetField(name string, value interface{}) {
	now := time.Now().Unix()
	if e.Fields == nil {
		e.Fields = FieldMap{}
	}
	if e.FieldModified == nil {
		e.FieldModified = map[string]int64{}
	}
	e.Fields[name] = value
	e.FieldModified[name] = now
	e.LastModified = now
	e.UpdatedAt = now
	if e.SyncStatus == SyncStatusSynced {
		e.SyncStatus = SyncStatusPendingUpload
	}
}

// MarkSynced records a successful round trip with the remote store: the
// change tag is captured and the current fields become the three-way
// merge ancestor for the next cycle.
func (e *Entity) MarkSynced(recordID, changeTag string) {
	e.RecordID = recordID
	e.ChangeTag = changeTag
	e.SyncStatus = SyncStatusSynced
	e.ConflictPending = false
	e.BaseFields = e.Fields.Clone()
	e.UpdatedAt = time.Now().Unix()
}

// Clone returns a deep copy of the field map.
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return nil
	}
	out := make(FieldMap, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case []string:
			cp := make([]string, len(tv))
			copy(cp, tv)
			out[k] = cp
		case map[string]float64:
			cp := make(map[string]float64, len(tv))
			for mk, mv := range tv {
				cp[mk] = mv
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
