// Package conflict provides conflict detection and resolution for
// offline-first synchronization.
package conflict

import (
	"math"

	"github.com/jubileebay/jubileesync/internal/models"
)

// Detector compares local and remote versions of an entity field by
// field. Metadata differences (change tag, sync status) alone never
// count as conflicts.
type Detector struct {
	schema models.Schema
}

// NewDetector creates a Detector for the given field schema.
func NewDetector(schema models.Schema) *Detector {
	return &Detector{schema: schema}
}

// Detect returns the names of conflicting fields between two versions
// of the same logical entity. An empty result means no conflict.
func (d *Detector) Detect(local, remote models.FieldMap) []string {
	var conflicts []string
	for _, name := range models.FieldNames(local, remote) {
		if !d.FieldsEqual(name, local[name], remote[name]) {
			conflicts = append(conflicts, name)
		}
	}
	return conflicts
}

// FieldsEqual compares one field's values under its kind's tolerance.
func (d *Detector) FieldsEqual(name string, a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch d.schema.Kind(name) {
	case models.FieldSet:
		return setsEqual(asStringSet(a), asStringSet(b))
	case models.FieldGeo:
		av, aok := asFloat(a)
		bv, bok := asFloat(b)
		if !aok || !bok {
			return false
		}
		return math.Abs(av-bv) <= models.GeoTolerance
	case models.FieldNumericMap:
		return numericMapsEqual(asNumericMap(a), asNumericMap(b))
	case models.FieldTimestamp:
		av, aok := asInt(a)
		bv, bok := asInt(b)
		if !aok || !bok {
			return false
		}
		diff := av - bv
		if diff < 0 {
			diff = -diff
		}
		return diff <= models.TimestampToleranceSecs
	default:
		// Scalar and free-text fields conflict on any difference.
		return a == b
	}
}

func setsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}

func numericMapsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

func asStringSet(v interface{}) []string {
	switch tv := v.(type) {
	case []string:
		return tv
	case []interface{}:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asNumericMap(v interface{}) map[string]float64 {
	switch tv := v.(type) {
	case map[string]float64:
		return tv
	case map[string]interface{}:
		out := make(map[string]float64, len(tv))
		for k, item := range tv {
			if f, ok := asFloat(item); ok {
				out[k] = f
			}
		}
		return out
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case int:
		return float64(tv), true
	}
	return 0, false
}

func asInt(v interface{}) (int64, bool) {
	switch tv := v.(type) {
	case int64:
		return tv, true
	case int:
		return int64(tv), true
	case float64:
		return int64(tv), true
	}
	return 0, false
}
