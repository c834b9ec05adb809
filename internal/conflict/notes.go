package conflict

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"fieldsync/internal/models"
)

// MergeNotes reconciles a field note that diverged locally and remotely.
// Winner picking delegates to Resolve, so the configured default strategy,
// manual preference and field overrides all apply. Under timestamp
// resolution diverging text is never silently discarded: when no field
// strategy is configured for "text", the losing text is appended under a
// conflict marker. Tags from both sides are preserved. A client-generated
// id is promoted to the server-assigned one.
func MergeNotes(local, remote models.FieldNote, settings models.MergeSettings) models.FieldNote {
	if local.Equal(remote) {
		return local.Clone()
	}

	merged := noteFromMap(Resolve(noteToMap(local), noteToMap(remote), settings))

	if local.Text != remote.Text {
		if override, ok := settings.FieldOverrides["text"]; ok {
			merged.Text = resolveText(local, remote, override)
		} else if effectiveStrategy(settings) == models.MergeTimestamp {
			winner, loser, loserSide := pickNewer(local, remote)
			merged.Text = fmt.Sprintf("%s\n\n[conflict: %s copy from %s]\n%s",
				winner.Text, loserSide, loser.UpdatedAt.UTC().Format(time.RFC3339), loser.Text)
		}
	}

	merged.Tags = unionTags(local.Tags, remote.Tags)

	merged.ID = local.ID
	if models.IsLocalNoteID(local.ID) && !models.IsLocalNoteID(remote.ID) {
		merged.ID = remote.ID
	}

	if remote.CreatedAt.Before(local.CreatedAt) && !remote.CreatedAt.IsZero() {
		merged.CreatedAt = remote.CreatedAt
	} else {
		merged.CreatedAt = local.CreatedAt
	}
	merged.UpdatedAt = laterTime(local.UpdatedAt, remote.UpdatedAt)

	return merged
}

func pickNewer(local, remote models.FieldNote) (winner, loser models.FieldNote, loserSide string) {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return local, remote, "server"
	}
	// Ties and zero timestamps favor the server copy.
	return remote, local, "local"
}

func noteToMap(n models.FieldNote) map[string]any {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func noteFromMap(m map[string]any) models.FieldNote {
	var n models.FieldNote
	raw, err := json.Marshal(m)
	if err != nil {
		return n
	}
	_ = json.Unmarshal(raw, &n)
	return n
}

func resolveText(local, remote models.FieldNote, strategy models.MergeStrategy) string {
	switch strategy {
	case models.MergeClientWins:
		return local.Text
	case models.MergeTimestamp:
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return local.Text
		}
		return remote.Text
	default:
		return remote.Text
	}
}

func unionTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, tag := range a {
		if !seen[tag] {
			seen[tag] = true
			union = append(union, tag)
		}
	}
	for _, tag := range b {
		if !seen[tag] {
			seen[tag] = true
			union = append(union, tag)
		}
	}
	sort.Strings(union)
	return union
}

func laterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
