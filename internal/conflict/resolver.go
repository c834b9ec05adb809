// Package conflict implements deterministic merge strategies for records
// that were modified both locally and remotely since the last sync point.
// Resolution is pure: the outcome is a function of the two input versions
// and the active strategy only.
package conflict

import (
	"encoding/json"
	"reflect"
	"time"

	"fieldsync/internal/models"
)

// timestampField is the designated field compared by the timestamp strategy.
const timestampField = "updated_at"

// Resolve merges two versions of a record according to the settings.
// Byte-identical inputs short-circuit to the local value. The id field is
// never overwritten by a merge. Malformed or missing timestamps fall back
// to the remote copy.
func Resolve(local, remote map[string]any, settings models.MergeSettings) map[string]any {
	if local == nil {
		return deepCloneMap(remote)
	}
	if remote == nil {
		return deepCloneMap(local)
	}
	if reflect.DeepEqual(local, remote) {
		return deepCloneMap(local)
	}

	var merged map[string]any
	switch effectiveStrategy(settings) {
	case models.MergeClientWins:
		merged = deepCloneMap(local)
	case models.MergeServerWins:
		merged = deepCloneMap(remote)
	case models.MergeFieldByField:
		merged = mergeFields(local, remote, settings.FieldOverrides)
	default: // models.MergeTimestamp
		if localNewer(local, remote) {
			merged = deepCloneMap(local)
		} else {
			merged = deepCloneMap(remote)
		}
	}

	if id, ok := local["id"]; ok {
		merged["id"] = id
	}
	return merged
}

// effectiveStrategy collapses the manual strategy onto its automated
// fallback, since background sync has no way to ask the user.
func effectiveStrategy(settings models.MergeSettings) models.MergeStrategy {
	strategy := settings.Default
	if strategy == models.MergeManual {
		strategy = settings.ManualPreference
	}
	switch strategy {
	case models.MergeTimestamp, models.MergeClientWins, models.MergeServerWins, models.MergeFieldByField:
		return strategy
	default:
		return models.MergeServerWins
	}
}

// mergeFields applies per-field overrides to scalar fields and recurses into
// nested objects with the client-wins default. Overrides match top-level
// field names only; they do not propagate into nested objects.
func mergeFields(local, remote map[string]any, overrides map[string]models.MergeStrategy) map[string]any {
	merged := make(map[string]any, len(local)+len(remote))

	for key, lv := range local {
		rv, inRemote := remote[key]
		if !inRemote {
			merged[key] = deepClone(lv)
			continue
		}

		lm, lIsMap := lv.(map[string]any)
		rm, rIsMap := rv.(map[string]any)
		if lIsMap && rIsMap {
			merged[key] = mergeFields(lm, rm, nil)
			continue
		}

		switch overrides[key] {
		case models.MergeServerWins:
			merged[key] = deepClone(rv)
		case models.MergeTimestamp:
			if localNewer(local, remote) {
				merged[key] = deepClone(lv)
			} else {
				merged[key] = deepClone(rv)
			}
		default: // client wins
			merged[key] = deepClone(lv)
		}
	}

	for key, rv := range remote {
		if _, inLocal := local[key]; !inLocal {
			merged[key] = deepClone(rv)
		}
	}

	return merged
}

// localNewer compares the designated timestamp field of both versions.
// Ties and unparseable timestamps favor the remote copy.
func localNewer(local, remote map[string]any) bool {
	lt, lok := parseTimestamp(local[timestampField])
	rt, rok := parseTimestamp(remote[timestampField])
	if !lok || !rok {
		return false
	}
	return lt.After(rt)
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	case float64:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepClone(v)
	}
	return cp
}

func deepClone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cp := make([]any, len(val))
		for i := range val {
			cp[i] = deepClone(val[i])
		}
		return cp
	default:
		return v
	}
}
