package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const feedWriteTimeout = 5 * time.Second

// FeedEvent is one frame on the live feed.
type FeedEvent struct {
	Type    string       `json:"type"` // "status" | "message"
	Content string       `json:"content,omitempty"`
	Message *PushPayload `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *feedClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Feed is a WebSocket broadcast hub. It is both a sink and the http.Handler
// listeners connect to.
type Feed struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*feedClient
}

func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{logger: logger, clients: make(map[string]*feedClient)}
}

func (f *Feed) Name() string { return "feed" }

// Listeners returns the number of connected clients.
func (f *Feed) Listeners() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("feed upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	client := &feedClient{conn: conn}
	f.mu.Lock()
	f.clients[id] = client
	metrics.FeedListeners.Set(float64(len(f.clients)))
	f.mu.Unlock()
	f.logger.Info("feed listener connected", "client_id", id, "remote", r.RemoteAddr)

	if data, err := json.Marshal(FeedEvent{Type: "status", Content: "connected"}); err == nil {
		client.write(data)
	}

	defer func() {
		f.mu.Lock()
		delete(f.clients, id)
		metrics.FeedListeners.Set(float64(len(f.clients)))
		f.mu.Unlock()
		conn.Close()
		f.logger.Info("feed listener disconnected", "client_id", id)
	}()

	// Listeners never send anything meaningful; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("feed read error", "client_id", id, "err", err)
			}
			return
		}
	}
}

// Send broadcasts msg to every listener. Zero listeners is a success.
func (f *Feed) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	payload, err := PushPayloadFor(msg)
	if err != nil {
		return failed(f.Name(), err.Error())
	}
	data, err := json.Marshal(FeedEvent{Type: "message", Message: &payload})
	if err != nil {
		return failed(f.Name(), fmt.Sprintf("encode: %v", err))
	}

	f.mu.RLock()
	clients := make(map[string]*feedClient, len(f.clients))
	for id, c := range f.clients {
		clients[id] = c
	}
	f.mu.RUnlock()

	if len(clients) == 0 {
		return succeeded(f.Name(), "no listeners")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for id, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.write(data); err != nil {
				f.logger.Debug("feed write failed", "client_id", id, "err", err)
				c.conn.Close()
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return failed(f.Name(), ctx.Err().Error())
	}

	mu.Lock()
	defer mu.Unlock()
	return succeeded(f.Name(), fmt.Sprintf("broadcast to %d/%d listeners", delivered, len(clients)))
}

// Close disconnects every listener.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		c.mu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		c.conn.Close()
		c.mu.Unlock()
		delete(f.clients, id)
	}
	metrics.FeedListeners.Set(0)
}
