package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.handleStats))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stats"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	s := NewServer()
	defer s.Close()
	conn := dialTestServer(t, s)

	// The handler registers the client asynchronously from the dial.
	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("client never registered")
	}

	want := Frame{Frame: 7, Objects: 21, Pairs: 3, Contacts: 5, Islands: 2, StepMS: 1.25}
	s.Broadcast(want)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got Frame
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("broadcast frame %+v, want %+v", got, want)
	}
}

func TestDroppedClientLeavesBroadcast(t *testing.T) {
	s := NewServer()
	defer s.Close()
	conn := dialTestServer(t, s)

	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	// Broadcasting to a closed connection must evict it, not error.
	for i := 0; i < 5; i++ {
		s.Broadcast(Frame{Frame: uint64(i)})
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() != 0 {
		t.Errorf("closed client still registered: %d", s.ClientCount())
	}
}

func TestBroadcastNoClients(t *testing.T) {
	s := NewServer()
	defer s.Close()
	s.Broadcast(Frame{Frame: 1})
}
