package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
)

const hubWriteTimeout = 5 * time.Second

// ErrQueueFull is returned by Publish when clients cannot keep up.
var ErrQueueFull = errors.New("alert broadcast queue full")

// Hub maintains the set of live websocket clients and broadcasts alerts to
// them. It is a Sink.
type Hub struct {
	log       *logger.Logger
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub creates a hub accepting connections from allowedOrigins. An empty
// list or "*" accepts any origin.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	h := &Hub{
		log:       logger.OrNop(log).WithComponent("alert-hub"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run pushes queued messages to every client until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug("websocket write failed, dropping client", zap.Error(err))
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// ServeWS upgrades the request and registers the client. Clients only
// receive; reads exist to notice disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("websocket client connected", zap.Int("clients", total))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warn("websocket closed unexpectedly", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues the alert for broadcast. A full queue drops the alert.
func (h *Hub) Publish(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}
