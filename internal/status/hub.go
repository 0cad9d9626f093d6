package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"floradaemon/internal/sensor"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// LiveMessage is pushed to every /api/live subscriber.
type LiveMessage struct {
	Type      string             `json:"type"` // reading, failure or sweep
	Sensor    string             `json:"sensor,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values,omitempty"`
}

// Hub fans readings out to websocket subscribers. Slow subscribers are
// dropped rather than blocking the sweep.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan []byte
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates an empty Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and streams messages until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	send := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ws] = send
	h.mu.Unlock()

	go h.writeLoop(ws, send)

	// Drain peer frames so close messages are processed.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			break
		}
	}
	h.remove(ws)
}

func (h *Hub) writeLoop(ws *websocket.Conn, send <-chan []byte) {
	defer ws.Close()
	for data := range send {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(ws)
			return
		}
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[ws]; ok {
		delete(h.clients, ws)
		close(send)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every subscriber.
func (h *Hub) Broadcast(msg LiveMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode live message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ws, send := range h.clients {
		select {
		case send <- data:
		default:
			h.logger.Warn().Str("remote", ws.RemoteAddr().String()).Msg("Dropping slow live subscriber")
			delete(h.clients, ws)
			close(send)
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws, send := range h.clients {
		delete(h.clients, ws)
		close(send)
	}
}

// ObserveReading broadcasts a reading.
func (h *Hub) ObserveReading(r *sensor.Reading) {
	values := make(map[string]float64, len(sensor.Parameters))
	for _, p := range sensor.Parameters {
		values[string(p)] = r.Value(p)
	}
	h.Broadcast(LiveMessage{Type: "reading", Sensor: r.Sensor.Name, Timestamp: r.Time, Values: values})
}

// ObserveFailure broadcasts a failed poll.
func (h *Hub) ObserveFailure(s *sensor.Handle) {
	h.Broadcast(LiveMessage{Type: "failure", Sensor: s.Name, Timestamp: time.Now()})
}

// SweepDone broadcasts the end of a sweep.
func (h *Hub) SweepDone(at time.Time) {
	h.Broadcast(LiveMessage{Type: "sweep", Timestamp: at})
}
