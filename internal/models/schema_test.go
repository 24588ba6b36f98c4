package models

import (
	"sort"
	"testing"
)

func TestSchemaKindDefaultsToScalar(t *testing.T) {
	if k := ReportSchema.Kind("species"); k != FieldSet {
		t.Errorf("Kind(species) = %v, want FieldSet", k)
	}
	if k := ReportSchema.Kind("unknownField"); k != FieldScalar {
		t.Errorf("Kind(unknownField) = %v, want FieldScalar", k)
	}
}

func TestFieldNamesUnion(t *testing.T) {
	a := FieldMap{"intensity": "Minor", "description": "x"}
	b := FieldMap{"intensity": "Major", "latitude": 30.69}

	names := FieldNames(a, b)
	sort.Strings(names)

	want := []string{"description", "intensity", "latitude"}
	if len(names) != len(want) {
		t.Fatalf("FieldNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("FieldNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
