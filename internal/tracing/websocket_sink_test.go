package tracing

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
)

func TestWebSocketSinkBroadcastsStepToConnectedClient(t *testing.T) {
	sink := NewWebSocketSink()
	server := httptest.NewServer(sink)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client before the
	// broadcast fires, since registration happens asynchronously from
	// Upgrade's return.
	time.Sleep(20 * time.Millisecond)

	sink.RecordStep(Step{CoopName: "root", AgentName: "ping", Kind: "delivered"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	data, err := snappy.Decode(nil, frame)
	if err != nil {
		t.Fatalf("snappy decode: %v", err)
	}
	var step Step
	if err := json.Unmarshal(data, &step); err != nil {
		t.Fatalf("unmarshal step: %v", err)
	}
	if step.AgentName != "ping" || step.Kind != "delivered" {
		t.Fatalf("unexpected step received: %+v", step)
	}
}

func TestWebSocketSinkCloseDisconnectsClients(t *testing.T) {
	sink := NewWebSocketSink()
	server := httptest.NewServer(sink)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	if err := sink.Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed after sink.Close")
	}
}
