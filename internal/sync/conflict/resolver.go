// Package conflict provides conflict detection and resolution for
// offline-first synchronization.
package conflict

import (
	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/logging"
	"github.com/jubileebay/jubileesync/internal/models"
)

// Strategy defines how conflicts are resolved.
type Strategy string

const (
	StrategyServerWins      Strategy = "server_wins"
	StrategyClientWins      Strategy = "client_wins"
	StrategyMostRecent      Strategy = "most_recent"
	StrategyFieldLevelMerge Strategy = "field_level_merge"
	StrategyThreeWayMerge   Strategy = "three_way_merge"
	StrategyManual          Strategy = "manual"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyServerWins, StrategyClientWins, StrategyMostRecent,
		StrategyFieldLevelMerge, StrategyThreeWayMerge, StrategyManual:
		return Strategy(s), nil
	}
	return "", errors.New(errors.ErrValidation, "unknown resolution strategy: "+s)
}

// Outcome is the action a resolution asks the caller to apply.
type Outcome string

const (
	// OutcomeUseLocal keeps the local version; it is re-queued for upload.
	OutcomeUseLocal Outcome = "use_local"
	// OutcomeUseRemote overwrites the local version with the remote one.
	OutcomeUseRemote Outcome = "use_remote"
	// OutcomeMerge applies the merged fields; the result is re-queued
	// for upload since it may differ from both sides.
	OutcomeMerge Outcome = "merge"
	// OutcomeDeferred leaves the entity flagged for manual resolution.
	OutcomeDeferred Outcome = "deferred"
)

// Version is one side of a conflict: the field content plus the
// modification metadata the merge strategies need.
type Version struct {
	Fields        models.FieldMap
	FieldModified map[string]int64
	LastModified  int64
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Outcome  Outcome
	Strategy Strategy

	// Merged holds the merged field map when Outcome is OutcomeMerge.
	Merged models.FieldMap
	// MergedModified carries the per-field stamps of the chosen sides.
	MergedModified map[string]int64
	// LastModified is the merged metadata timestamp (max of both sides).
	LastModified int64
	// Unresolved names fields (or map keys, dotted) where both sides
	// changed from base to different values; those carry the base value.
	Unresolved []string
}

// Resolver applies one configured strategy to detected conflicts.
type Resolver struct {
	strategy Strategy
	detector *Detector
}

// NewResolver creates a Resolver with the given strategy and schema.
func NewResolver(strategy Strategy, schema models.Schema) *Resolver {
	return &Resolver{
		strategy: strategy,
		detector: NewDetector(schema),
	}
}

// Strategy returns the active resolution strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Detector returns the resolver's field detector.
func (r *Resolver) Detector() *Detector {
	return r.detector
}

// Resolve resolves a conflict between two versions of one logical
// entity. base is the common ancestor field map; when nil, three-way
// merge degrades to a two-way merge that treats local as its own base.
func (r *Resolver) Resolve(local, remote Version, base models.FieldMap) (*Resolution, error) {
	if local.Fields == nil || remote.Fields == nil {
		return nil, errors.New(errors.ErrInvalid, "both versions must carry fields")
	}
	if err := validateFields(local.Fields); err != nil {
		return nil, err
	}
	if err := validateFields(remote.Fields); err != nil {
		return nil, err
	}

	logging.Debug("resolving conflict",
		map[string]interface{}{
			"strategy":         r.strategy,
			"local_timestamp":  local.LastModified,
			"remote_timestamp": remote.LastModified,
			"has_base":         base != nil,
		})

	switch r.strategy {
	case StrategyServerWins:
		return &Resolution{Outcome: OutcomeUseRemote, Strategy: r.strategy, LastModified: remote.LastModified}, nil
	case StrategyClientWins:
		return &Resolution{Outcome: OutcomeUseLocal, Strategy: r.strategy, LastModified: local.LastModified}, nil
	case StrategyMostRecent:
		return r.resolveMostRecent(local, remote), nil
	case StrategyFieldLevelMerge:
		return r.resolveFieldLevel(local, remote), nil
	case StrategyThreeWayMerge:
		return r.resolveThreeWay(local, remote, base), nil
	case StrategyManual:
		return &Resolution{Outcome: OutcomeDeferred, Strategy: r.strategy}, nil
	default:
		return nil, errors.New(errors.ErrInvalid, "unknown resolution strategy: "+string(r.strategy))
	}
}

// resolveMostRecent takes the later LastModified side entirely. On a
// tie the local version wins.
func (r *Resolver) resolveMostRecent(local, remote Version) *Resolution {
	if local.LastModified >= remote.LastModified {
		return &Resolution{Outcome: OutcomeUseLocal, Strategy: r.strategy, LastModified: local.LastModified}
	}
	return &Resolution{Outcome: OutcomeUseRemote, Strategy: r.strategy, LastModified: remote.LastModified}
}

// resolveFieldLevel picks every field from whichever side modified it
// more recently, using per-field stamps where available. Metadata takes
// the max of both sides.
func (r *Resolver) resolveFieldLevel(local, remote Version) *Resolution {
	merged := models.FieldMap{}
	stamps := map[string]int64{}

	for _, name := range models.FieldNames(local.Fields, remote.Fields) {
		lv, lok := local.Fields[name]
		rv, rok := remote.Fields[name]

		switch {
		case !rok:
			merged[name] = lv
			stamps[name] = fieldStamp(local, name)
		case !lok:
			merged[name] = rv
			stamps[name] = fieldStamp(remote, name)
		case r.detector.FieldsEqual(name, lv, rv):
			merged[name] = lv
			stamps[name] = maxInt64(fieldStamp(local, name), fieldStamp(remote, name))
		case fieldStamp(local, name) >= fieldStamp(remote, name):
			merged[name] = lv
			stamps[name] = fieldStamp(local, name)
		default:
			merged[name] = rv
			stamps[name] = fieldStamp(remote, name)
		}
	}

	return &Resolution{
		Outcome:        OutcomeMerge,
		Strategy:       r.strategy,
		Merged:         merged,
		MergedModified: stamps,
		LastModified:   maxInt64(local.LastModified, remote.LastModified),
	}
}

// resolveThreeWay merges both sides against a common ancestor. Set
// fields take the base plus whatever either side added. Scalar fields
// take the side that changed from base; when both sides changed to
// different values the field keeps the base value and is reported as
// unresolved. Numeric maps merge key by key with the same logic.
func (r *Resolver) resolveThreeWay(local, remote Version, base models.FieldMap) *Resolution {
	if base == nil {
		// Two-way degradation: with local as its own base, any remote
		// change reads as the only changed side. Known limitation.
		base = local.Fields
	}

	merged := models.FieldMap{}
	stamps := map[string]int64{}
	var unresolved []string

	for _, name := range models.FieldNames(local.Fields, remote.Fields) {
		lv := local.Fields[name]
		rv := remote.Fields[name]
		bv := base[name]

		switch r.detector.schema.Kind(name) {
		case models.FieldSet:
			merged[name] = mergeSets(asStringSet(bv), asStringSet(lv), asStringSet(rv))
			stamps[name] = maxInt64(fieldStamp(local, name), fieldStamp(remote, name))
		case models.FieldNumericMap:
			value, ambiguous := mergeNumericMaps(name, asNumericMap(bv), asNumericMap(lv), asNumericMap(rv))
			merged[name] = value
			stamps[name] = maxInt64(fieldStamp(local, name), fieldStamp(remote, name))
			unresolved = append(unresolved, ambiguous...)
		default:
			value, stamp, ok := r.mergeScalar(name, bv, lv, rv, local, remote)
			merged[name] = value
			stamps[name] = stamp
			if !ok {
				unresolved = append(unresolved, name)
			}
		}
	}

	if len(unresolved) > 0 {
		logging.Warn("three-way merge left fields unresolved",
			map[string]interface{}{"fields": unresolved})
	}

	return &Resolution{
		Outcome:        OutcomeMerge,
		Strategy:       r.strategy,
		Merged:         merged,
		MergedModified: stamps,
		LastModified:   maxInt64(local.LastModified, remote.LastModified),
		Unresolved:     unresolved,
	}
}

// mergeScalar applies changed-from-base logic for one scalar-like
// field. Returns ok=false when both sides changed to different values;
// the base value is kept in that case.
func (r *Resolver) mergeScalar(name string, bv, lv, rv interface{}, local, remote Version) (interface{}, int64, bool) {
	localChanged := !r.detector.FieldsEqual(name, bv, lv)
	remoteChanged := !r.detector.FieldsEqual(name, bv, rv)

	switch {
	case !localChanged && !remoteChanged:
		return bv, maxInt64(fieldStamp(local, name), fieldStamp(remote, name)), true
	case localChanged && !remoteChanged:
		return lv, fieldStamp(local, name), true
	case !localChanged && remoteChanged:
		return rv, fieldStamp(remote, name), true
	case r.detector.FieldsEqual(name, lv, rv):
		// Both changed to the same value.
		return lv, maxInt64(fieldStamp(local, name), fieldStamp(remote, name)), true
	default:
		// Ambiguous: both changed to different values.
		return bv, maxInt64(fieldStamp(local, name), fieldStamp(remote, name)), false
	}
}

// mergeSets takes the base set plus whatever either side added.
func mergeSets(base, local, remote []string) []string {
	seen := make(map[string]bool, len(base)+len(local)+len(remote))
	var merged []string
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	for _, v := range local {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	for _, v := range remote {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	return merged
}

// mergeNumericMaps merges key by key with changed-from-base logic.
// Ambiguous keys keep the base value and are reported dotted
// ("readings.windSpeed").
func mergeNumericMaps(field string, base, local, remote map[string]float64) (map[string]float64, []string) {
	merged := make(map[string]float64)
	var ambiguous []string

	keys := make(map[string]bool)
	for k := range base {
		keys[k] = true
	}
	for k := range local {
		keys[k] = true
	}
	for k := range remote {
		keys[k] = true
	}

	for k := range keys {
		bv, inBase := base[k]
		lv, inLocal := local[k]
		rv, inRemote := remote[k]

		localChanged := inLocal != inBase || (inLocal && lv != bv)
		remoteChanged := inRemote != inBase || (inRemote && rv != bv)

		switch {
		case !localChanged && !remoteChanged:
			if inBase {
				merged[k] = bv
			}
		case localChanged && !remoteChanged:
			if inLocal {
				merged[k] = lv
			}
		case !localChanged && remoteChanged:
			if inRemote {
				merged[k] = rv
			}
		case inLocal && inRemote && lv == rv:
			merged[k] = lv
		default:
			if inBase {
				merged[k] = bv
			}
			ambiguous = append(ambiguous, field+"."+k)
		}
	}

	return merged, ambiguous
}

func fieldStamp(v Version, name string) int64 {
	if v.FieldModified != nil {
		if ts, ok := v.FieldModified[name]; ok {
			return ts
		}
	}
	return v.LastModified
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// validateFields rejects payloads whose values the engine cannot
// compare or merge.
func validateFields(fields models.FieldMap) error {
	for name, value := range fields {
		switch value.(type) {
		case nil, string, float64, float32, int, int64, bool,
			[]string, []interface{}, map[string]float64, map[string]interface{}:
		default:
			return errors.New(errors.ErrInvalidEntityType,
				"unsupported value type for field "+name)
		}
	}
	return nil
}
