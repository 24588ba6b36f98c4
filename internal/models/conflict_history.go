// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// ConflictHistoryEntry records one resolved-or-pending conflict for
// audit. Rows are created at detection time, updated exactly once at
// resolution time, and never deleted.
type ConflictHistoryEntry struct {
	ID             UUID            `db:"id" json:"id"`
	EntityUUID     UUID            `db:"entity_uuid" json:"entity_uuid"`
	OccurredAt     int64           `db:"occurred_at" json:"occurred_at"`
	ResolvedAt     *int64          `db:"resolved_at" json:"resolved_at,omitempty"`
	Strategy       string          `db:"strategy" json:"strategy"`
	ResolutionType string          `db:"resolution_type" json:"resolution_type"`
	LocalSnapshot  json.RawMessage `db:"local_snapshot" json:"local_snapshot,omitempty"`
	RemoteSnapshot json.RawMessage `db:"remote_snapshot" json:"remote_snapshot,omitempty"`
	MergedSnapshot json.RawMessage `db:"merged_snapshot" json:"merged_snapshot,omitempty"`
}

// TableName returns the table name for ConflictHistoryEntry.
func (ConflictHistoryEntry) TableName() string {
	return "conflict_history"
}

// Resolved reports whether the entry has been resolved.
func (c *ConflictHistoryEntry) Resolved() bool {
	return c.ResolvedAt != nil
}

// OccurredAtTime returns OccurredAt as time.Time.
func (c *ConflictHistoryEntry) OccurredAtTime() time.Time {
	return time.Unix(c.OccurredAt, 0)
}

// Snapshot serializes a field map for audit storage.
func Snapshot(fields FieldMap) json.RawMessage {
	if fields == nil {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}
