// Package models provides data model definitions for the sync engine.
package models

// FieldKind classifies a field for conflict detection purposes. Each
// kind has its own comparison rule and tolerance.
type FieldKind int

const (
	// FieldScalar is a categorical value compared for exact equality.
	FieldScalar FieldKind = iota
	// FieldText is free text compared for exact equality.
	FieldText
	// FieldSet is a multi-value field compared as an unordered set.
	FieldSet
	// FieldGeo is a geographic coordinate axis; differences within
	// GeoTolerance degrees (~10 meters) are not conflicts.
	FieldGeo
	// FieldNumericMap is a map of named numeric measurements compared
	// key by key.
	FieldNumericMap
	// FieldTimestamp is a unix-seconds value; differences within
	// TimestampTolerance are not conflicts.
	FieldTimestamp
)

// Comparison tolerances for conflict detection.
const (
	GeoTolerance           = 0.0001
	TimestampToleranceSecs = 60
)

// Schema maps field names to their kinds for one entity type.
type Schema map[string]FieldKind

// ReportSchema describes a jubilee event report, the primary synced
// entity type.
var ReportSchema = Schema{
	"species":     FieldSet,
	"intensity":   FieldScalar,
	"description": FieldText,
	"latitude":    FieldGeo,
	"longitude":   FieldGeo,
	"readings":    FieldNumericMap,
	"observedAt":  FieldTimestamp,
}

// Kind returns the kind of a field, defaulting to FieldScalar for
// fields the schema does not name.
func (s Schema) Kind(field string) FieldKind {
	if k, ok := s[field]; ok {
		return k
	}
	return FieldScalar
}

// FieldNames returns the union of field names present in either map.
func FieldNames(a, b FieldMap) []string {
	seen := make(map[string]bool, len(a)+len(b))
	names := make([]string, 0, len(a)+len(b))
	for k := range a {
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}
	return names
}
