// Package sync drives the offline-first synchronization cycle against
// an abstract remote record store.
package sync

import (
	"context"
	"time"

	"github.com/jubileebay/jubileesync/internal/models"
)

// AccountStatus reports remote account/service reachability.
type AccountStatus string

const (
	AccountAvailable  AccountStatus = "available"
	AccountNoAccount  AccountStatus = "no_account"
	AccountRestricted AccountStatus = "restricted"
	AccountUnknown    AccountStatus = "unknown"
)

// SavePolicy controls how a batch write treats untouched fields.
type SavePolicy string

const (
	// SavePolicyChangedKeys sends only the keys the client modified,
	// avoiding clobbering fields the server knows the client never
	// touched.
	SavePolicyChangedKeys SavePolicy = "changed_keys_only"
	// SavePolicyAllKeys sends the full field map.
	SavePolicyAllKeys SavePolicy = "all_keys"
)

// Record is the wire representation of an entity in the remote store.
type Record struct {
	RecordID      string           `json:"record_id,omitempty"`
	UUID          models.UUID      `json:"uuid"`
	ChangeTag     string           `json:"change_tag,omitempty"`
	ModifiedAt    int64            `json:"modified_at"`
	Fields        models.FieldMap  `json:"fields"`
	FieldModified map[string]int64 `json:"field_modified,omitempty"`

	// ChangedKeys lists the fields this save actually touched; only
	// consulted under SavePolicyChangedKeys.
	ChangedKeys []string `json:"changed_keys,omitempty"`
}

// SaveResult reports the outcome of one record within a batch save.
// Partial failure is expected: successes commit, failures are requeued
// individually.
type SaveResult struct {
	UUID      models.UUID
	RecordID  string
	ChangeTag string
	Err       error
}

// Cursor paginates a remote change-feed query. Empty means no further
// pages.
type Cursor string

// SubscriptionID identifies a remote change subscription. Push delivery
// is a collaborator concern; only registration passes through here.
type SubscriptionID string

// RemoteStore is the contract the sync engine requires of a remote
// record store.
type RemoteStore interface {
	// AccountStatus checks remote account/service reachability.
	AccountStatus(ctx context.Context) (AccountStatus, error)

	// SaveRecords writes a batch, returning one result per record.
	SaveRecords(ctx context.Context, records []Record, policy SavePolicy) ([]SaveResult, error)

	// QueryRecords returns records modified after the given time,
	// paginated by cursor.
	QueryRecords(ctx context.Context, modifiedAfter time.Time, cursor Cursor, limit int) ([]Record, Cursor, error)

	// FetchRecord retrieves a single record by remote identifier.
	FetchRecord(ctx context.Context, recordID string) (*Record, error)

	// Subscribe registers interest in remote changes matching a
	// predicate expression.
	Subscribe(ctx context.Context, predicate string) (SubscriptionID, error)
}

// RecordFromEntity builds the wire record for an entity, computing
// ChangedKeys as the fields that differ from the last-synced snapshot.
func RecordFromEntity(e *models.Entity) Record {
	rec := Record{
		RecordID:      e.RecordID,
		UUID:          e.UUID,
		ChangeTag:     e.ChangeTag,
		ModifiedAt:    e.LastModified,
		Fields:        e.Fields.Clone(),
		FieldModified: e.FieldModified,
	}

	if e.BaseFields == nil {
		for name := range e.Fields {
			rec.ChangedKeys = append(rec.ChangedKeys, name)
		}
		return rec
	}

	for _, name := range models.FieldNames(e.Fields, e.BaseFields) {
		lv, lok := e.Fields[name]
		bv, bok := e.BaseFields[name]
		if lok != bok || !fieldValueEqual(lv, bv) {
			rec.ChangedKeys = append(rec.ChangedKeys, name)
		}
	}
	return rec
}

// fieldValueEqual is a strict structural comparison used only for
// change detection when building upload records. Tolerance-based
// comparison belongs to the conflict detector.
func fieldValueEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case map[string]float64:
		bv, ok := b.(map[string]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if bv[k] != v {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
