package ipc

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop())
	r := gin.New()
	r.GET("/ws", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsToConnectedClient(t *testing.T) {
	h, srv := newTestServer(t)
	conn := dial(t, srv)

	waitForClients(t, h, 1)

	h.Publish(Progress{InstallationID: "inst-1", Phase: PhaseDownload, Percent: 42, Message: "fetching"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["installationId"] != "inst-1" || got["phase"] != PhaseDownload {
		t.Fatalf("unexpected message: %v", got)
	}
	if int(got["percent"].(float64)) != 42 {
		t.Fatalf("unexpected percent: %v", got["percent"])
	}
}

func TestProgressMarshalFlattensDetail(t *testing.T) {
	p := Progress{
		InstallationID: "inst-2",
		Phase:          PhaseExtract,
		Percent:        -1,
		Detail:         map[string]any{"currentFile": "model.safetensors"},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["currentFile"] != "model.safetensors" {
		t.Fatalf("expected flattened detail field, got %v", got)
	}
	if int(got["percent"].(float64)) != -1 {
		t.Fatalf("expected indeterminate percent -1, got %v", got["percent"])
	}
}

func TestHubDropsSlowClientInsteadOfBlocking(t *testing.T) {
	h, srv := newTestServer(t)
	_ = dial(t, srv) // never read from this connection

	waitForClients(t, h, 1)

	for i := 0; i < 512; i++ {
		h.Publish(Progress{InstallationID: "inst-3", Phase: PhaseRun, Percent: i % 100})
	}

	// The hub goroutine must still be alive and responsive; a deadlock
	// here would mean a slow client blocked the broadcast loop.
	done := make(chan struct{})
	go func() {
		h.Publish(Progress{InstallationID: "inst-3", Phase: PhaseDone, Percent: 100})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub appears blocked by a slow client")
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clients", n)
}
