package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldNote is the domain record being synchronized. Notes created offline
// carry a client-generated id until the server assigns a permanent one.
type FieldNote struct {
	ID        string    `json:"id"`
	ParcelKey string    `json:"parcel_key"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const localIDPrefix = "local_"

// NewLocalNoteID generates a client-side note id of the form
// local_<unix-ms>_<rand>.
func NewLocalNoteID() string {
	return fmt.Sprintf("%s%d_%s", localIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsLocalNoteID reports whether the id was generated on this client and has
// not yet been replaced by a server-assigned one.
func IsLocalNoteID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Clone returns a deep copy of the note.
func (n FieldNote) Clone() FieldNote {
	cp := n
	if n.Tags != nil {
		cp.Tags = append([]string(nil), n.Tags...)
	}
	return cp
}

// Equal compares all content fields, ignoring nothing.
func (n FieldNote) Equal(other FieldNote) bool {
	if n.ID != other.ID || n.ParcelKey != other.ParcelKey ||
		n.Text != other.Text || n.Author != other.Author ||
		!n.CreatedAt.Equal(other.CreatedAt) || !n.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if len(n.Tags) != len(other.Tags) {
		return false
	}
	for i := range n.Tags {
		if n.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return true
}
