package tracing

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
)

// wsClient is one connected live-debugger client, grounded on the teacher's
// *Client{send chan []byte} registration in main.go.
type wsClient struct {
	send chan []byte
}

// WebSocketSink broadcasts Step records, JSON-encoded, to every connected
// websocket client. It is grounded on the teacher's Broker.broadcast loop:
// a map of registered clients, a buffered per-client send channel, and a
// non-blocking select that evicts any client whose buffer is full instead
// of stalling the broadcaster.
type WebSocketSink struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
}

// NewWebSocketSink constructs an empty sink ready to accept connections via
// ServeHTTP.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// as a live trace client until the connection closes.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{send: make(chan []byte, 64)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writePump(conn, client)
	go s.readPump(conn, client)
}

func (s *WebSocketSink) writePump(conn *websocket.Conn, client *wsClient) {
	defer conn.Close()
	for msg := range client.send {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			s.forget(client)
			return
		}
	}
}

// readPump drains and discards inbound frames so pong control messages and
// client-initiated closes are observed; a live-debugger client never sends
// application data upstream.
func (s *WebSocketSink) readPump(conn *websocket.Conn, client *wsClient) {
	defer s.forget(client)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink) forget(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// RecordStep implements Sink. Each frame is JSON-encoded then snappy-
// compacted before broadcast, matching the teacher's use of
// github.com/golang/snappy to keep high-frequency frames small on the wire.
func (s *WebSocketSink) RecordStep(step Step) {
	data, err := json.Marshal(step)
	if err != nil {
		return
	}
	frame := snappy.Encode(nil, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects every registered client.
func (s *WebSocketSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	return nil
}
