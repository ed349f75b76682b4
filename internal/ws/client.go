package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
)

// bufPool pools buffers for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one websocket connection. It implements presence.Handle.
// Lifecycle: newClient -> start -> [readPump, writePump] -> Close -> wait.
type Client struct {
	handler *Handler
	conn    *websocket.Conn
	send    chan models.Signal
	info    ConnInfo

	mu     sync.Mutex
	userID string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(h *Handler, conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		handler: h,
		conn:    conn,
		send:    make(chan models.Signal, h.settings.SendBuffer),
		info:    info,
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.info.ConnID
}

// UserID is the identity bound by the last announce, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// bind sets the user id and returns the previous one.
func (c *Client) bind(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.userID
	c.userID = userID
	return prev
}

// Push enqueues sig without blocking. On a full buffer presence and typing
// updates are dropped; anything else closes the connection.
func (c *Client) Push(sig models.Signal) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- sig:
		return true
	case <-c.done:
		return false
	default:
		if ephemeral(sig.Type) {
			logger.Debugf("ws send buffer full conn=%s, dropped %s", c.info.ConnID, sig.Type)
			return false
		}
		logger.Warnf("ws send buffer full conn=%s user=%s, closing", c.info.ConnID, c.UserID())
		c.Close()
		return false
	}
}

func ephemeral(t models.SignalType) bool {
	switch t {
	case models.SignalOnline, models.SignalOffline, models.SignalTypingChanged:
		return true
	}
	return false
}

// Close stops both pumps. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) wait() {
	c.wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	var closeErr error
	defer func() {
		c.Close()
		c.handler.disconnect(ctx, c, closeErr)
	}()

	settings := c.handler.settings
	c.conn.SetReadLimit(settings.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(settings.PongWait)); err != nil {
		closeErr = err
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			closeErr = err
			return
		}

		var sig models.InboundSignal
		if err := json.Unmarshal(raw, &sig); err != nil || sig.Type == "" {
			logger.Debugf("ws malformed frame conn=%s: %v", c.info.ConnID, err)
			c.Push(errorSignal("malformed frame"))
			continue
		}
		c.handler.dispatch(ctx, c, sig)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	settings := c.handler.settings
	ticker := time.NewTicker(settings.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case sig := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait)); err != nil {
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(sig); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s: %v", c.info.ConnID, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorSignal(text string) models.Signal {
	return models.Signal{Type: models.SignalError, Payload: models.ErrorPayload{Error: text}}
}
