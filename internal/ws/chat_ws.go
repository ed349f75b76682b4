package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"resonance-chat/internal/chat"
	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
	"resonance-chat/internal/observability"
	"resonance-chat/internal/presence"
)

// Service is the part of chat.Service the websocket surface drives.
type Service interface {
	Send(ctx context.Context, origin presence.Handle, req chat.SendRequest) (chat.SendResult, error)
	MarkRead(ctx context.Context, reader, otherParty string) (int64, error)
	Typing(senderID, receiverID string, isTyping bool)
}

type Settings struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
}

func DefaultSettings() Settings {
	return Settings{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
	}
}

// Handler upgrades connections and routes their signals.
type Handler struct {
	registry *presence.Registry
	svc      Service
	settings Settings
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHandler(registry *presence.Registry, svc Service, settings Settings) *Handler {
	def := DefaultSettings()
	if settings.WriteWait <= 0 {
		settings.WriteWait = def.WriteWait
	}
	if settings.PongWait <= 0 {
		settings.PongWait = def.PongWait
	}
	if settings.MaxMessageSize <= 0 {
		settings.MaxMessageSize = def.MaxMessageSize
	}
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = def.SendBuffer
	}
	return &Handler{
		registry: registry,
		svc:      svc,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(settings.AllowedOrigins),
		},
		clients: make(map[*Client]struct{}),
	}
}

// Handle upgrades the request. The connection is anonymous until it announces
// but receives presence changes from the start.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("resonance-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debugf("ws upgrade failed: %v", err)
		return
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	client := newClient(h, conn, info)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.registry.Subscribe(client)

	observability.IncWSConnections()
	publishWSEvent(ctx, info, "", "ws_connect", "")

	// the connection outlives the request; keep only its trace and request id
	base := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	base = observability.ContextWithRequestID(base, requestID)
	clientCtx, cancel := context.WithCancel(base)
	client.start(clientCtx, cancel)
}

func (h *Handler) dispatch(ctx context.Context, c *Client, sig models.InboundSignal) {
	switch sig.Type {
	case models.SignalAnnounce:
		var p models.AnnouncePayload
		if !decode(c, sig, &p) {
			return
		}
		if p.UserID == "" {
			c.Push(errorSignal("userId required"))
			return
		}
		if prev := c.bind(p.UserID); prev != "" && prev != p.UserID {
			h.registry.Unregister(prev, c)
		}
		h.registry.Register(p.UserID, c)
		observability.IncWSEvent("announce")

	case models.SignalSend:
		var req chat.SendRequest
		if !decode(c, sig, &req) {
			return
		}
		// failures are pushed to c as sendFailed by the service
		_, _ = h.svc.Send(ctx, c, req)

	case models.SignalTypingStart, models.SignalTypingStop:
		var p models.TypingPayload
		if !decode(c, sig, &p) {
			return
		}
		h.svc.Typing(p.SenderID, p.ReceiverID, sig.Type == models.SignalTypingStart)

	case models.SignalMarkRead:
		var p models.MarkReadPayload
		if !decode(c, sig, &p) {
			return
		}
		if _, err := h.svc.MarkRead(ctx, p.Reader, p.OtherParty); err != nil {
			c.Push(errorSignal(err.Error()))
		}

	case models.SignalPing:
		c.Push(models.Signal{Type: models.SignalPong})

	default:
		c.Push(errorSignal("unknown signal type " + string(sig.Type)))
	}
}

func decode(c *Client, sig models.InboundSignal, dst any) bool {
	if len(sig.Payload) == 0 {
		c.Push(errorSignal("missing payload for " + string(sig.Type)))
		return false
	}
	if err := json.Unmarshal(sig.Payload, dst); err != nil {
		c.Push(errorSignal("malformed payload for " + string(sig.Type)))
		return false
	}
	return true
}

// disconnect stops presence updates to c and releases the registry binding
// it holds, if it still owns it.
func (h *Handler) disconnect(ctx context.Context, c *Client, cause error) {
	ctx = context.WithoutCancel(ctx)
	h.registry.Unsubscribe(c)
	userID := c.UserID()
	if userID != "" {
		h.registry.Unregister(userID, c)
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
		if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishWSEvent(ctx, c.info, userID, "ws_error", reason)
		}
	}
	observability.DecWSConnections()
	publishWSEvent(ctx, c.info, userID, "ws_disconnect", reason)
}

// Connections reports the number of open connections, announced or not.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for the pumps to exit or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, c := range clients {
			c.Close()
			c.wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ presence.Handle = (*Client)(nil)
