package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"resonance-chat/internal/observability"
)

const wsKind = "chat"

func newConnID() string {
	return uuid.NewString()
}

// publishWSEvent reports a connection lifecycle event on the presence routing key.
func publishWSEvent(ctx context.Context, info ConnInfo, userID, event, reason string) {
	var durationMs int64
	if event != "ws_connect" {
		durationMs = time.Since(info.ConnectedAt).Milliseconds()
	}
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.RoutingPresence, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]any{
			"ws": map[string]any{
				"kind":        wsKind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMs,
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   userID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

// originChecker allows requests without an Origin header and, when allowed is
// non-empty, only the listed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
