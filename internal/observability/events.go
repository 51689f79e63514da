package observability

import (
	"context"
	"time"
)

// EventEnvelope is the telemetry wire format.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// BuildHeaders assembles optional correlation headers.
func BuildHeaders(sessionID, traceID string) map[string]string {
	headers := map[string]string{}
	if sessionID != "" {
		headers["x-session-id"] = sessionID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// PublishConnectionEvent reports a connection lifecycle transition.
func PublishConnectionEvent(ctx context.Context, eventName, sessionID string, payload map[string]interface{}) {
	_ = PublishEvent(ctx, "sync_events.connection", EventEnvelope{
		EventType:  "sync_events",
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}, BuildHeaders(sessionID, ""))
}
