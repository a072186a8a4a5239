// Package monitor streams scan events to websocket clients as JSON.
package monitor

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
	"github.com/chaz8081/stonectl/internal/scan"
)

// writeTimeout keeps a slow client from stalling a broadcast.
const writeTimeout = 100 * time.Millisecond

// Message is one websocket frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Advertisement is the payload of raw and validated events.
type Advertisement struct {
	scan.Summary
	ServiceData *protocol.ServiceData `json:"serviceData,omitempty"`
}

// EventMessage converts a scan event into a message. New data events carry
// only the summary.
func EventMessage(ev scan.Event) Message {
	summary := ev.Record.Summarize(ev.Validated)
	if ev.Type == scan.EventNewData {
		return Message{Type: ev.Type.String(), Payload: summary}
	}
	return Message{Type: ev.Type.String(), Payload: Advertisement{Summary: summary, ServiceData: ev.Record.Data}}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans messages out to connected websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Handler upgrades requests to websocket connections and registers them.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("[MONITOR] websocket upgrade failed", "error", err)
			return
		}
		h.AddClient(conn)
		go h.drain(conn)
	})
}

// drain reads until the client goes away; clients never send anything
// meaningful.
func (h *Hub) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.RemoveClient(conn)
			return
		}
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	slog.Info("[MONITOR] client connected", "remote", conn.RemoteAddr(), "clients", len(h.clients))
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		slog.Info("[MONITOR] client disconnected", "remote", conn.RemoteAddr(), "clients", len(h.clients))
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes msg to every client and drops the ones that fail.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []*websocket.Conn
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteJSON(msg); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		h.RemoveClient(conn)
	}
}

// Consume implements scan.Consumer; it never stops the scan.
func (h *Hub) Consume(ev scan.Event) bool {
	h.Broadcast(EventMessage(ev))
	return false
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
