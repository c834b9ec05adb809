package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusRetrying   OperationStatus = "retrying"
)

// Operation types understood by the built-in handlers. The set is extensible:
// any type with a registered handler can be enqueued.
const (
	OpNoteCreate = "note_create"
	OpNoteUpdate = "note_update"
	OpNoteDelete = "note_delete"
	OpParcelSync = "parcel_sync"
)

// QueuedOperation is a single pending mutation awaiting submission to the
// remote service. CreatedAt is immutable and breaks ties within a priority.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     OperationStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Errors     []string        `json:"errors,omitempty"`
	Priority   int             `json:"priority"`
}

// NewQueuedOperation builds a pending operation with a fresh id.
func NewQueuedOperation(opType string, payload json.RawMessage, priority, maxRetries int) *QueuedOperation {
	now := time.Now().UTC()
	return &QueuedOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: maxRetries,
		Priority:   priority,
	}
}

// Terminal reports whether the operation can no longer be processed
// without a manual reset.
func (o *QueuedOperation) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// Clone returns a deep copy safe to hand out across goroutines.
func (o *QueuedOperation) Clone() *QueuedOperation {
	cp := *o
	if o.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	if o.Errors != nil {
		cp.Errors = append([]string(nil), o.Errors...)
	}
	return &cp
}

// NoteDeletePayload is the payload shape for OpNoteDelete.
type NoteDeletePayload struct {
	ParcelKey string `json:"parcel_key"`
	NoteID    string `json:"note_id"`
}

// ParcelSyncPayload is the payload shape for OpParcelSync.
type ParcelSyncPayload struct {
	ParcelKey string `json:"parcel_key"`
}

// ParcelKeyFromPayload extracts the parcel key from any payload that carries
// one. Returns "" when the payload has no such field.
func ParcelKeyFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		ParcelKey string `json:"parcel_key"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ParcelKey
}
