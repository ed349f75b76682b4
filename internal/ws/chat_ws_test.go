package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resonance-chat/internal/chat"
	"resonance-chat/internal/models"
	"resonance-chat/internal/presence"
	"resonance-chat/internal/repositories"
)

type frame struct {
	Type    models.SignalType `json:"type"`
	Payload json.RawMessage   `json:"payload"`
}

type testServer struct {
	srv      *httptest.Server
	handler  *Handler
	registry *presence.Registry
	svc      *chat.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry(presence.NewBroadcaster())
	svc := chat.NewService(repositories.NewMemoryMessageRepo(nil), repositories.NewMemoryUserRepo(), registry, chat.Options{})
	handler := NewHandler(registry, svc, Settings{SendBuffer: 32})

	router := gin.New()
	router.GET("/ws", handler.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handler.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{srv: srv, handler: handler, registry: registry, svc: svc}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ models.SignalType, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.Signal{Type: typ, Payload: payload}))
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ models.SignalType) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", typ)
		if f.Type == typ {
			return f
		}
	}
}

// announce binds the connection and waits until the server has processed it.
func announce(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	write(t, conn, models.SignalAnnounce, models.AnnouncePayload{UserID: userID})
	write(t, conn, models.SignalPing, nil)
	readUntil(t, conn, models.SignalPong)
}

func decodePayload[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func TestWSPresenceDeliveryAndReceipt(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	b := s.dial(t)

	announce(t, a, "a")
	announce(t, b, "b")

	online := decodePayload[models.PresencePayload](t, readUntil(t, a, models.SignalOnline))
	assert.Equal(t, "b", online.UserID)

	write(t, a, models.SignalSend, chat.SendRequest{SenderID: "a", ReceiverID: "b", Text: "hi"})
	delivered := decodePayload[models.Message](t, readUntil(t, b, models.SignalDelivered))
	assert.Equal(t, "hi", delivered.Text)
	assert.False(t, delivered.IsRead)

	ack := decodePayload[models.Message](t, readUntil(t, a, models.SignalAcknowledged))
	assert.Equal(t, delivered.ID, ack.ID)

	write(t, b, models.SignalTypingStart, models.TypingPayload{SenderID: "b", ReceiverID: "a"})
	typing := decodePayload[models.TypingChangedPayload](t, readUntil(t, a, models.SignalTypingChanged))
	assert.Equal(t, models.TypingChangedPayload{SenderID: "b", IsTyping: true}, typing)

	write(t, b, models.SignalMarkRead, models.MarkReadPayload{Reader: "b", OtherParty: "a"})
	receipt := decodePayload[models.ReadReceiptPayload](t, readUntil(t, a, models.SignalReadReceipt))
	assert.Equal(t, "b", receipt.ReaderID)

	require.NoError(t, b.Close())
	offline := decodePayload[models.PresencePayload](t, readUntil(t, a, models.SignalOffline))
	assert.Equal(t, "b", offline.UserID)
}

func TestWSOfflineReceiverStillAcknowledged(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	announce(t, a, "a")

	write(t, a, models.SignalSend, chat.SendRequest{SenderID: "a", ReceiverID: "nobody", Text: "later"})
	ack := decodePayload[models.Message](t, readUntil(t, a, models.SignalAcknowledged))
	assert.Equal(t, "later", ack.Text)

	hist, err := s.svc.History(context.Background(), "a", "nobody")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestWSInvalidSendFails(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	announce(t, a, "a")

	write(t, a, models.SignalSend, chat.SendRequest{SenderID: "a", Text: "x"})
	failed := decodePayload[models.ErrorPayload](t, readUntil(t, a, models.SignalSendFailed))
	assert.Contains(t, failed.Error, "receiverId")
}

func TestWSReconnectKeepsNewestHandle(t *testing.T) {
	s := newTestServer(t)
	first := s.dial(t)
	announce(t, first, "u")
	second := s.dial(t)
	announce(t, second, "u")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.handler.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	h, ok := s.registry.Lookup("u")
	require.True(t, ok)
	assert.Equal(t, 1, s.registry.Len())

	sender := s.dial(t)
	announce(t, sender, "a")
	write(t, sender, models.SignalSend, chat.SendRequest{SenderID: "a", ReceiverID: "u", Text: "still here"})
	delivered := decodePayload[models.Message](t, readUntil(t, second, models.SignalDelivered))
	assert.Equal(t, "still here", delivered.Text)
	assert.NotEmpty(t, h.ID())
}

func TestWSReannounceRebinds(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)
	announce(t, conn, "old")
	announce(t, conn, "new")

	_, ok := s.registry.Lookup("old")
	assert.False(t, ok)
	_, ok = s.registry.Lookup("new")
	assert.True(t, ok)
}

func TestWSMalformedFrames(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	e := decodePayload[models.ErrorPayload](t, readUntil(t, conn, models.SignalError))
	assert.Equal(t, "malformed frame", e.Error)

	write(t, conn, "bogus", nil)
	e = decodePayload[models.ErrorPayload](t, readUntil(t, conn, models.SignalError))
	assert.Contains(t, e.Error, "unknown signal type")

	write(t, conn, models.SignalAnnounce, models.AnnouncePayload{})
	e = decodePayload[models.ErrorPayload](t, readUntil(t, conn, models.SignalError))
	assert.Equal(t, "userId required", e.Error)
	assert.Equal(t, 0, s.registry.Len())
}

func TestOriginChecker(t *testing.T) {
	allowAll := originChecker(nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://evil.test")
	assert.True(t, allowAll(req))

	strict := originChecker([]string{"http://app.test"})
	assert.False(t, strict(req))
	req.Header.Set("Origin", "http://app.test")
	assert.True(t, strict(req))
	req.Header.Del("Origin")
	assert.True(t, strict(req))
}

func TestWSAnonymousConnectionReceivesPresence(t *testing.T) {
	s := newTestServer(t)
	watcher := s.dial(t)
	write(t, watcher, models.SignalPing, nil)
	readUntil(t, watcher, models.SignalPong)

	a := s.dial(t)
	announce(t, a, "a")

	online := decodePayload[models.PresencePayload](t, readUntil(t, watcher, models.SignalOnline))
	assert.Equal(t, "a", online.UserID)

	require.NoError(t, a.Close())
	offline := decodePayload[models.PresencePayload](t, readUntil(t, watcher, models.SignalOffline))
	assert.Equal(t, "a", offline.UserID)
	require.Eventually(t, func() bool { return s.handler.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSSupersededConnectionStillReceivesPresence(t *testing.T) {
	s := newTestServer(t)
	first := s.dial(t)
	announce(t, first, "u")
	second := s.dial(t)
	announce(t, second, "u")

	other := s.dial(t)
	announce(t, other, "x")

	online := decodePayload[models.PresencePayload](t, readUntil(t, first, models.SignalOnline))
	assert.Equal(t, "u", online.UserID)
	online = decodePayload[models.PresencePayload](t, readUntil(t, first, models.SignalOnline))
	assert.Equal(t, "x", online.UserID)
}

func TestClientFullBufferDropsPresenceWithoutClosing(t *testing.T) {
	c := &Client{send: make(chan models.Signal, 1), done: make(chan struct{})}
	require.True(t, c.Push(models.Signal{Type: models.SignalPong}))

	assert.False(t, c.Push(models.Signal{Type: models.SignalOnline, Payload: models.PresencePayload{UserID: "a"}}))
	assert.False(t, c.Push(models.Signal{Type: models.SignalTypingChanged}))

	select {
	case <-c.done:
		t.Fatal("client closed on a dropped presence update")
	default:
	}
	assert.Len(t, c.send, 1)
}
