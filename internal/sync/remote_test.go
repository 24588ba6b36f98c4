package sync

import (
	"testing"

	"github.com/jubileebay/jubileesync/internal/models"
)

// TestRecordFromEntityChangedKeys verifies the diff against the
// last-synced snapshot that drives the changed-keys-only save policy.
func TestRecordFromEntityChangedKeys(t *testing.T) {
	e := &models.Entity{
		UUID:      "33333333-3333-4333-8333-333333333333",
		RecordID:  "rec-1",
		ChangeTag: "t1",
		Fields: models.FieldMap{
			"intensity":   "Major",
			"description": "calm",
			"species":     []string{"flounder"},
		},
		BaseFields: models.FieldMap{
			"intensity":   "Minor",
			"description": "calm",
			"species":     []string{"flounder"},
		},
		LastModified: 1700000000,
	}

	rec := RecordFromEntity(e)
	if rec.UUID != e.UUID || rec.RecordID != "rec-1" || rec.ChangeTag != "t1" {
		t.Errorf("record identity = %s/%s/%s, want the entity's", rec.UUID, rec.RecordID, rec.ChangeTag)
	}
	if len(rec.ChangedKeys) != 1 || rec.ChangedKeys[0] != "intensity" {
		t.Errorf("ChangedKeys = %v, want [intensity]", rec.ChangedKeys)
	}
}

func TestRecordFromEntityWithoutSnapshotSendsAllKeys(t *testing.T) {
	e := &models.Entity{
		UUID: "44444444-4444-4444-8444-444444444444",
		Fields: models.FieldMap{
			"intensity": "Major",
			"latitude":  30.6954,
		},
	}

	rec := RecordFromEntity(e)
	if len(rec.ChangedKeys) != len(e.Fields) {
		t.Errorf("ChangedKeys = %v, want every field when no snapshot exists", rec.ChangedKeys)
	}
}

func TestRecordFromEntityDetectsRemovedField(t *testing.T) {
	e := &models.Entity{
		UUID:       "55555555-5555-4555-8555-555555555555",
		Fields:     models.FieldMap{"intensity": "Major"},
		BaseFields: models.FieldMap{"intensity": "Major", "description": "old"},
	}

	rec := RecordFromEntity(e)
	if len(rec.ChangedKeys) != 1 || rec.ChangedKeys[0] != "description" {
		t.Errorf("ChangedKeys = %v, want [description] for a removed field", rec.ChangedKeys)
	}
}

func TestRecordFieldsAreCopied(t *testing.T) {
	e := &models.Entity{
		UUID:   "66666666-6666-4666-8666-666666666666",
		Fields: models.FieldMap{"species": []string{"mullet"}},
	}

	rec := RecordFromEntity(e)
	rec.Fields["species"].([]string)[0] = "eel"

	if e.Fields["species"].([]string)[0] != "mullet" {
		t.Error("RecordFromEntity should deep-copy field values")
	}
}
