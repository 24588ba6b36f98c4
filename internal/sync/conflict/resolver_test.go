// Package conflict tests for the resolution strategies.
package conflict

import (
	"testing"
	"time"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/models"
)

func TestResolverServerWins(t *testing.T) {
	r := NewResolver(StrategyServerWins, models.ReportSchema)

	res, err := r.Resolve(
		Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 200},
		Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 100},
		nil,
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeUseRemote {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeUseRemote)
	}
}

func TestResolverClientWins(t *testing.T) {
	r := NewResolver(StrategyClientWins, models.ReportSchema)

	res, err := r.Resolve(
		Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 100},
		Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 200},
		nil,
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeUseLocal {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeUseLocal)
	}
}

func TestResolverMostRecentRemoteNewer(t *testing.T) {
	r := NewResolver(StrategyMostRecent, models.ReportSchema)

	now := time.Now().Unix()
	res, err := r.Resolve(
		Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: now},
		Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: now + 300},
		nil,
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeUseRemote {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeUseRemote)
	}
	if res.LastModified != now+300 {
		t.Errorf("LastModified = %d, want %d", res.LastModified, now+300)
	}
}

func TestResolverMostRecentTieKeepsLocal(t *testing.T) {
	r := NewResolver(StrategyMostRecent, models.ReportSchema)

	res, err := r.Resolve(
		Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 100},
		Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 100},
		nil,
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeUseLocal {
		t.Errorf("Outcome = %v, want %v on a timestamp tie", res.Outcome, OutcomeUseLocal)
	}
}

// TestResolverFieldLevelDisjointEdits verifies that edits to disjoint
// fields on the two sides both survive the merge.
func TestResolverFieldLevelDisjointEdits(t *testing.T) {
	r := NewResolver(StrategyFieldLevelMerge, models.ReportSchema)

	local := Version{
		Fields:        models.FieldMap{"intensity": "Major", "description": "old note"},
		FieldModified: map[string]int64{"intensity": 200, "description": 50},
		LastModified:  200,
	}
	remote := Version{
		Fields:        models.FieldMap{"intensity": "Minor", "description": "seen at the pier"},
		FieldModified: map[string]int64{"intensity": 100, "description": 150},
		LastModified:  150,
	}

	res, err := r.Resolve(local, remote, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeMerge {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeMerge)
	}
	if res.Merged["intensity"] != "Major" {
		t.Errorf("Merged[intensity] = %v, want the newer local edit", res.Merged["intensity"])
	}
	if res.Merged["description"] != "seen at the pier" {
		t.Errorf("Merged[description] = %v, want the newer remote edit", res.Merged["description"])
	}
	if res.LastModified != 200 {
		t.Errorf("LastModified = %d, want 200", res.LastModified)
	}
}

func TestResolverFieldLevelFallsBackToVersionTimestamp(t *testing.T) {
	r := NewResolver(StrategyFieldLevelMerge, models.ReportSchema)

	// No per-field stamps: the version's LastModified decides.
	local := Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 100}
	remote := Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 300}

	res, err := r.Resolve(local, remote, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Merged["intensity"] != "Minor" {
		t.Errorf("Merged[intensity] = %v, want the remote value", res.Merged["intensity"])
	}
}

// TestResolverThreeWayConvergence covers the classic case: base B, local
// changed field X, remote changed field Y. The merge must carry both.
func TestResolverThreeWayConvergence(t *testing.T) {
	r := NewResolver(StrategyThreeWayMerge, models.ReportSchema)

	base := models.FieldMap{"intensity": "Minor", "description": "calm"}
	local := Version{
		Fields:       models.FieldMap{"intensity": "Major", "description": "calm"},
		LastModified: 200,
	}
	remote := Version{
		Fields:       models.FieldMap{"intensity": "Minor", "description": "flounder at the shore"},
		LastModified: 150,
	}

	res, err := r.Resolve(local, remote, base)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeMerge {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeMerge)
	}
	if res.Merged["intensity"] != "Major" {
		t.Errorf("Merged[intensity] = %v, want the local change", res.Merged["intensity"])
	}
	if res.Merged["description"] != "flounder at the shore" {
		t.Errorf("Merged[description] = %v, want the remote change", res.Merged["description"])
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("Unresolved = %v, want none", res.Unresolved)
	}
}

func TestResolverThreeWaySetUnion(t *testing.T) {
	r := NewResolver(StrategyThreeWayMerge, models.ReportSchema)

	base := models.FieldMap{"species": []string{"flounder"}}
	local := Version{
		Fields:       models.FieldMap{"species": []string{"flounder", "shrimp"}},
		LastModified: 100,
	}
	remote := Version{
		Fields:       models.FieldMap{"species": []string{"flounder", "blue crab"}},
		LastModified: 100,
	}

	res, err := r.Resolve(local, remote, base)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got, ok := res.Merged["species"].([]string)
	if !ok {
		t.Fatalf("Merged[species] has type %T, want []string", res.Merged["species"])
	}
	want := map[string]bool{"flounder": true, "shrimp": true, "blue crab": true}
	if len(got) != len(want) {
		t.Fatalf("Merged[species] = %v, want both sides' additions", got)
	}
	for _, v := range got {
		if !want[v] {
			t.Errorf("Merged[species] contains unexpected %q", v)
		}
	}
}

func TestResolverThreeWayAmbiguousScalarKeepsBase(t *testing.T) {
	r := NewResolver(StrategyThreeWayMerge, models.ReportSchema)

	base := models.FieldMap{"intensity": "Minor"}
	local := Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 100}
	remote := Version{Fields: models.FieldMap{"intensity": "Moderate"}, LastModified: 100}

	res, err := r.Resolve(local, remote, base)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Merged["intensity"] != "Minor" {
		t.Errorf("Merged[intensity] = %v, want the base value", res.Merged["intensity"])
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "intensity" {
		t.Errorf("Unresolved = %v, want [intensity]", res.Unresolved)
	}
}

func TestResolverThreeWayNumericMapPerKey(t *testing.T) {
	r := NewResolver(StrategyThreeWayMerge, models.ReportSchema)

	base := models.FieldMap{"readings": map[string]float64{"salinity": 18.5, "windSpeed": 3.0}}
	local := Version{
		Fields:       models.FieldMap{"readings": map[string]float64{"salinity": 20.0, "windSpeed": 3.0}},
		LastModified: 100,
	}
	remote := Version{
		Fields:       models.FieldMap{"readings": map[string]float64{"salinity": 18.5, "windSpeed": 3.0, "airTemp": 27.5}},
		LastModified: 100,
	}

	res, err := r.Resolve(local, remote, base)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got, ok := res.Merged["readings"].(map[string]float64)
	if !ok {
		t.Fatalf("Merged[readings] has type %T, want map[string]float64", res.Merged["readings"])
	}
	if got["salinity"] != 20.0 {
		t.Errorf("salinity = %v, want the local change 20.0", got["salinity"])
	}
	if got["airTemp"] != 27.5 {
		t.Errorf("airTemp = %v, want the remote addition 27.5", got["airTemp"])
	}
	if got["windSpeed"] != 3.0 {
		t.Errorf("windSpeed = %v, want the unchanged base value", got["windSpeed"])
	}
}

func TestResolverThreeWayWithoutBaseDegradesToTwoWay(t *testing.T) {
	r := NewResolver(StrategyThreeWayMerge, models.ReportSchema)

	// Without an ancestor, local stands in as its own base, so a remote
	// difference reads as a remote-only change and is adopted.
	local := Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 100}
	remote := Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 100}

	res, err := r.Resolve(local, remote, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Merged["intensity"] != "Major" {
		t.Errorf("Merged[intensity] = %v, want the remote value", res.Merged["intensity"])
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("Unresolved = %v, want none", res.Unresolved)
	}
}

func TestResolverManualDefers(t *testing.T) {
	r := NewResolver(StrategyManual, models.ReportSchema)

	res, err := r.Resolve(
		Version{Fields: models.FieldMap{"intensity": "Minor"}, LastModified: 100},
		Version{Fields: models.FieldMap{"intensity": "Major"}, LastModified: 200},
		nil,
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != OutcomeDeferred {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeDeferred)
	}
}

func TestResolverRejectsUnsupportedValueType(t *testing.T) {
	r := NewResolver(StrategyMostRecent, models.ReportSchema)

	_, err := r.Resolve(
		Version{Fields: models.FieldMap{"weird": struct{ X int }{1}}, LastModified: 100},
		Version{Fields: models.FieldMap{"weird": "ok"}, LastModified: 100},
		nil,
	)
	if err == nil {
		t.Fatal("Resolve should reject unsupported field value types")
	}
	if errors.Code(err) != errors.ErrInvalidEntityType {
		t.Errorf("error code = %v, want %v", errors.Code(err), errors.ErrInvalidEntityType)
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("three_way_merge")
	if err != nil {
		t.Fatalf("ParseStrategy failed: %v", err)
	}
	if s != StrategyThreeWayMerge {
		t.Errorf("ParseStrategy = %v, want %v", s, StrategyThreeWayMerge)
	}

	if _, err := ParseStrategy("coin_flip"); err == nil {
		t.Error("ParseStrategy should reject unknown strategies")
	}
}
