package notify

import (
	"errors"
	"testing"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(EventSyncStarted, func(ev *Event) error {
		got = append(got, ev.Type)
		return nil
	})

	if err := bus.PublishJSON(EventSyncStarted, Payload{Title: "Sync started"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.PublishJSON(EventSyncCompleted, Payload{Title: "Sync completed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 1 || got[0] != EventSyncStarted {
		t.Fatalf("typed subscriber received %v", got)
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()

	var count int
	bus.SubscribeAll(func(*Event) error {
		count++
		return nil
	})

	for _, typ := range []string{EventQueueUpdated, EventOperationFailed, EventConflictDetected} {
		if err := bus.PublishJSON(typ, Payload{Title: typ}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	if count != 3 {
		t.Fatalf("wildcard subscriber saw %d events", count)
	}
}

func TestFailingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	var delivered bool
	bus.Subscribe(EventQueueUpdated, func(*Event) error { return errors.New("sink broken") })
	bus.Subscribe(EventQueueUpdated, func(*Event) error {
		delivered = true
		return nil
	})

	if err := bus.PublishJSON(EventQueueUpdated, Payload{Title: "update"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !delivered {
		t.Fatal("later subscriber skipped after a handler error")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	bus := NewBus()

	var got Payload
	bus.Subscribe(EventOperationFailed, func(ev *Event) error {
		payload, err := DecodePayload(ev)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = payload
		return nil
	})

	sent := Payload{
		OperationID:   "op-1",
		OperationType: "note_update",
		ParcelKey:     "p1",
		Title:         "Operation failed permanently",
		Body:          "server rejected payload",
		Failed:        1,
	}
	if err := bus.PublishJSON(EventOperationFailed, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got != sent {
		t.Fatalf("payload round trip: got %+v want %+v", got, sent)
	}
}

func TestNilBusPublishIsSafe(t *testing.T) {
	var bus *Bus
	if err := bus.PublishJSON(EventQueueUpdated, Payload{Title: "x"}); err != nil {
		t.Fatalf("nil bus publish: %v", err)
	}
}
