package notify

import "github.com/rs/zerolog"

// AttachLogSink subscribes a structured-log notification sink to every event
// on the bus. It is the default NotificationSink for headless deployments;
// user-facing frontends subscribe their own handlers.
func AttachLogSink(bus *Bus, logger *zerolog.Logger) {
	bus.SubscribeAll(func(event *Event) error {
		payload, err := DecodePayload(event)
		if err != nil {
			logger.Warn().Err(err).Str("event", event.Type).Msg("undecodable notification payload")
			return nil
		}

		entry := logger.Info()
		if event.Type == EventOperationFailed || event.Type == EventSyncPartiallyFailed {
			entry = logger.Warn()
		}
		entry.
			Str("event", event.Type).
			Str("operation_id", payload.OperationID).
			Str("operation_type", payload.OperationType).
			Str("parcel_key", payload.ParcelKey).
			Str("body", payload.Body).
			Msg(payload.Title)
		return nil
	})
}
