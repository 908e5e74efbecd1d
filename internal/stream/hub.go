// Package stream pushes every driver cycle to WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

const (
	MessageType = "power_states"

	writeWait  = 2 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

// Message is the JSON frame sent for each cycle.
type Message struct {
	Type    string             `json:"type"`
	Data    []power.PowerState `json:"data"`
	EventID string             `json:"event_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans cycles out to connected clients. Run must be running for
// clients to register and receive messages.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stopped    chan struct{}
	mutex      sync.RWMutex
	now        func() time.Time
	log        *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopped:    make(chan struct{}),
		now:        time.Now,
		log:        logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client. A hub runs at most once.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.stopped)
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("client registered", "remote", client.RemoteAddr(), "clients", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("client unregistered", "remote", client.RemoteAddr(), "clients", n)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("marshal message", "err", err)
				continue
			}
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					h.log.Debug("broadcast failed", "remote", client.RemoteAddr(), "err", err)
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

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// WriteCycle queues a copy of the cycle for broadcast. A full queue drops
// the cycle rather than stalling the driver.
func (h *Hub) WriteCycle(states []power.PowerState) error {
	data := make([]power.PowerState, len(states))
	copy(data, states)
	msg := Message{
		Type:    MessageType,
		Data:    data,
		EventID: h.now().Format("20060102150405.000"),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping cycle", "records", len(states))
	}
	return nil
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away or stops answering pings.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.stopped:
		conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.stopped:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
