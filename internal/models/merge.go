package models

import "time"

// MergeStrategy is the policy used to pick or combine a winning value when a
// record was modified both locally and remotely since the last sync point.
type MergeStrategy string

const (
	MergeTimestamp    MergeStrategy = "timestamp"
	MergeClientWins   MergeStrategy = "client_wins"
	MergeServerWins   MergeStrategy = "server_wins"
	MergeFieldByField MergeStrategy = "field_by_field"
	MergeManual       MergeStrategy = "manual"
)

// Valid reports whether the strategy is a member of the closed set.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeTimestamp, MergeClientWins, MergeServerWins, MergeFieldByField, MergeManual:
		return true
	default:
		return false
	}
}

// MergeSettings is the process-wide conflict resolution configuration.
// ManualPreference is the fallback applied when the manual strategy is
// selected but no interactive resolution is possible (offline or background
// sync); it must be one of timestamp, client_wins or server_wins.
type MergeSettings struct {
	Default          MergeStrategy            `json:"default"`
	FieldOverrides   map[string]MergeStrategy `json:"field_overrides,omitempty"`
	ManualPreference MergeStrategy            `json:"manual_preference"`
}

// DefaultMergeSettings favors the most recent write and falls back to the
// server copy when a manual decision cannot be made.
func DefaultMergeSettings() MergeSettings {
	return MergeSettings{
		Default:          MergeTimestamp,
		ManualPreference: MergeServerWins,
	}
}

// Clone returns a deep copy of the settings.
func (m MergeSettings) Clone() MergeSettings {
	cp := m
	if m.FieldOverrides != nil {
		cp.FieldOverrides = make(map[string]MergeStrategy, len(m.FieldOverrides))
		for k, v := range m.FieldOverrides {
			cp.FieldOverrides[k] = v
		}
	}
	return cp
}

// RetryStrategy bounds the retry budget and backoff window applied to every
// operation unless the operation carries its own MaxRetries override.
type RetryStrategy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
}

// DefaultRetryStrategy mirrors the daemon's built-in defaults.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   time.Minute,
	}
}
