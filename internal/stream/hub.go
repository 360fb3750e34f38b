// Package stream bridges the generation event bus onto WebSocket clients.
// Clients join a project room and receive that project's events as JSON.
package stream

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"appkernel/internal/generation"
	"appkernel/internal/logging"
	"appkernel/internal/metrics"
)

// Hub maintains active client connections, one room per project id. An empty
// room id subscribes to everything.
type Hub struct {
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}

	bus *generation.Broadcaster
	mu  sync.RWMutex
}

// Client is one WebSocket subscriber.
type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ProjectID string
	send      chan []byte
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed := os.Getenv("CORS_ALLOWED_ORIGINS"); allowed != "" {
			for _, a := range strings.Split(allowed, ",") {
				if strings.TrimSpace(a) == origin {
					return true
				}
			}
			return false
		}
		// Local tooling sends no origin; browsers on localhost are fine.
		return origin == "" || strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	},
}

// NewHub creates a hub fed by the given event bus.
func NewHub(bus *generation.Broadcaster) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		bus:        bus,
	}
}

// Run pumps bus events to room clients until Shutdown. Call in a goroutine.
func (h *Hub) Run() {
	events, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			logging.L().Info("stream hub shutdown complete")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case ev := <-events:
			h.dispatch(ev)
		}
	}
}

// Shutdown stops the hub and disconnects every client.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.ProjectID] == nil {
		h.rooms[c.ProjectID] = make(map[*Client]bool)
	}
	h.rooms[c.ProjectID][c] = true
	metrics.Get().WebSocketConnectionsGauge.Inc()
	logging.L().Debug("stream client joined",
		zap.String("project_id", c.ProjectID))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.ProjectID]
	if room == nil || !room[c] {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.ProjectID)
	}
	close(c.send)
	metrics.Get().WebSocketConnectionsGauge.Dec()
}

// dispatch fans an event to its project room and to the firehose room.
func (h *Hub) dispatch(ev generation.Event) {
	data, err := marshalEvent(ev)
	if err != nil {
		return
	}

	rooms := []string{ev.ProjectID}
	if ev.ProjectID != "" {
		rooms = append(rooms, "")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, roomID := range rooms {
		for client := range h.rooms[roomID] {
			select {
			case client.send <- data:
				metrics.Get().RecordWebSocketMessage("out")
			default:
				// Slow client: drop the connection rather than block
				// the event pump.
				close(client.send)
				delete(h.rooms[roomID], client)
				metrics.Get().WebSocketConnectionsGauge.Dec()
			}
		}
	}
}
