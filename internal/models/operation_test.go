package models

import (
	"encoding/json"
	"testing"
)

func TestNewQueuedOperationDefaults(t *testing.T) {
	op := NewQueuedOperation(OpNoteCreate, json.RawMessage(`{"parcel_key":"p1"}`), 3, 5)

	if op.ID == "" {
		t.Fatal("id must be assigned")
	}
	if op.Status != StatusPending {
		t.Fatalf("status = %s", op.Status)
	}
	if op.RetryCount != 0 || op.MaxRetries != 5 || op.Priority != 3 {
		t.Fatalf("unexpected fields: %+v", op)
	}
	if !op.CreatedAt.Equal(op.UpdatedAt) {
		t.Fatal("timestamps must start equal")
	}
	if op.Terminal() {
		t.Fatal("pending is not terminal")
	}
}

func TestTerminalStates(t *testing.T) {
	cases := map[OperationStatus]bool{
		StatusPending:    false,
		StatusInProgress: false,
		StatusRetrying:   false,
		StatusCompleted:  true,
		StatusFailed:     true,
	}
	for status, want := range cases {
		op := QueuedOperation{Status: status}
		if got := op.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	op := NewQueuedOperation(OpNoteUpdate, json.RawMessage(`{"a":1}`), 1, 3)
	op.Errors = []string{"first"}

	cp := op.Clone()
	cp.Payload[1] = 'x'
	cp.Errors[0] = "mutated"

	if string(op.Payload) != `{"a":1}` {
		t.Fatalf("payload aliased: %s", op.Payload)
	}
	if op.Errors[0] != "first" {
		t.Fatal("errors aliased")
	}
}

func TestParcelKeyFromPayload(t *testing.T) {
	if got := ParcelKeyFromPayload(json.RawMessage(`{"parcel_key":"p7","note_id":"n1"}`)); got != "p7" {
		t.Fatalf("got %q", got)
	}
	if got := ParcelKeyFromPayload(json.RawMessage(`{"other":"x"}`)); got != "" {
		t.Fatalf("payload without key: got %q", got)
	}
	if got := ParcelKeyFromPayload(nil); got != "" {
		t.Fatalf("nil payload: got %q", got)
	}
	if got := ParcelKeyFromPayload(json.RawMessage(`{broken`)); got != "" {
		t.Fatalf("malformed payload: got %q", got)
	}
}

func TestLocalNoteIDs(t *testing.T) {
	id := NewLocalNoteID()
	if !IsLocalNoteID(id) {
		t.Fatalf("generated id %q not recognized as local", id)
	}
	if IsLocalNoteID("srv-123") {
		t.Fatal("server id misclassified as local")
	}
	if id == NewLocalNoteID() {
		t.Fatal("ids must be unique")
	}
}
