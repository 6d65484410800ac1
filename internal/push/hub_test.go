package push

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestHubTracksClients(t *testing.T) {
	stats := &countingStats{}
	auth := func(*http.Request) (Identity, error) {
		return Identity{TenantID: "t1", UserID: "u1", Owner: true}, nil
	}
	h := NewHub(auth, stats, slog.New(slog.DiscardHandler))

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{"ongea-push-v1"},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitUntil(t, func() bool { return h.ClientCount() == 1 }, "client registration")
	if got := stats.connectCount(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}

	h.SendTenant("t1", []byte(`{"event":"ping"}`))
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"event":"ping"}` {
		t.Errorf("frame = %q", data)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitUntil(t, func() bool { return stats.disconnectCount() == 1 }, "client deregistration")
	if h.ClientCount() != 0 {
		t.Errorf("client count = %d after close", h.ClientCount())
	}
}
