package db

import "testing"

func TestMigratorUp(t *testing.T) {
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer database.Close()

	m := NewMigrator(database.DB)
	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("CurrentVersion = %d, want %d", version, len(migrations))
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Fatalf("applied %d migrations, want %d", len(applied), len(migrations))
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("migration %d checksum length = %d, want 64", mig.Version, len(mig.Checksum))
		}
	}
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer database.Close()

	m := NewMigrator(database.DB)
	if err := m.Up(); err != nil {
		t.Fatalf("first Up failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("second Up failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("applied %d migrations after double Up, want %d", len(applied), len(migrations))
	}
}
