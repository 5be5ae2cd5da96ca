// Package ws streams a worker's live events over WebSocket. Frames carry the
// same JSON events as the /stream endpoint.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/CodeHive/internal/service"
)

const writeTimeout = 10 * time.Second

// Source hands out event subscriptions. *service.Broadcaster implements it.
type Source interface {
	Subscribe() *service.Subscription
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub tracks active WebSocket connections. Each connection owns one
// subscription to the Source for its whole lifetime.
type Hub struct {
	src       Source
	keepalive time.Duration

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub serving events from src, pinging idle clients every
// keepalive.
func NewHub(src Source, keepalive time.Duration) *Hub {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &Hub{
		src:       src,
		keepalive: keepalive,
		conns:     make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the connection and streams events until the client
// disconnects or its subscription is dropped.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The client never sends data; CloseRead handles control frames.
	ctx, cancel := context.WithCancel(wsConn.CloseRead(r.Context()))
	c := &conn{ws: wsConn, cancel: cancel}
	h.add(c)
	defer h.remove(c)

	sub := h.src.Subscribe()
	defer sub.Close()

	slog.Debug("websocket connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = wsConn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = wsConn.Close(websocket.StatusTryAgainLater, "subscriber dropped")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("websocket marshal failed", "error", err)
				continue
			}
			if err := h.write(ctx, wsConn, data); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsConn.Ping(pctx)
			pcancel()
			if err != nil {
				slog.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close ends every active connection.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.cancel()
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Debug("websocket disconnected")
	}
}
