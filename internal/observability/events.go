package observability

// Routing keys on the events exchange.
const (
	RoutingPresence         = "ws_events.presence"
	RoutingMessagePersisted = "chat_events.message_persisted"
	RoutingMessagesRead     = "chat_events.messages_read"
	RoutingAudit            = "audit.chat"
)

type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// Describe is used by the noop publisher when logging.
func (e EventEnvelope) Describe() string {
	return e.EventType + "/" + e.EventName
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
