package notify

import (
	"encoding/json"
	"sync"
	"time"
)

// Lifecycle events emitted by the sync engine. Delivery is fire-and-forget:
// a failing subscriber never affects queue state.
const (
	EventQueueUpdated        = "queue_updated"
	EventSyncStarted         = "sync_started"
	EventSyncCompleted       = "sync_completed"
	EventSyncPartiallyFailed = "sync_partially_failed"
	EventOperationFailed     = "operation_failed"
	EventConflictDetected    = "conflict_detected"
)

// Payload is the machine-readable body carried by every event, alongside a
// human-readable title/body pair for user-facing display.
type Payload struct {
	OperationID   string `json:"operation_id,omitempty"`
	OperationType string `json:"operation_type,omitempty"`
	ParcelKey     string `json:"parcel_key,omitempty"`
	Title         string `json:"title"`
	Body          string `json:"body,omitempty"`
	Succeeded     int    `json:"succeeded,omitempty"`
	Failed        int    `json:"failed,omitempty"`
}

// Event represents a lightweight engine event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event *Event) error

// Bus provides in-process pub/sub for engine events.
type Bus struct {
	subscribers map[string][]Handler
	wildcards   []Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcards = append(b.wildcards, handler)
}

// Publish notifies subscribers of the event type. Handlers run
// synchronously; the caller decides the concurrency model.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcards...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *Bus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// DecodePayload unmarshals an event body into Payload.
func DecodePayload(event *Event) (Payload, error) {
	var payload Payload
	err := json.Unmarshal(event.Payload, &payload)
	return payload, err
}
