package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/permission"
)

// recorder captures routed frames without a real hub.
type recorder struct {
	subs      []Identity
	broadcast [][]byte
	byUser    map[string][][]byte
}

func newRecorder(subs ...Identity) *recorder {
	return &recorder{subs: subs, byUser: make(map[string][][]byte)}
}

func (r *recorder) SendTenant(_ string, data []byte) { r.broadcast = append(r.broadcast, data) }

func (r *recorder) SendUser(_, userID string, data []byte) {
	r.byUser[userID] = append(r.byUser[userID], data)
}

func (r *recorder) Subscribers(_ string) []Identity { return r.subs }

func decodeFrame(t *testing.T, data []byte) Frame {
	t.Helper()
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	return f
}

// countingStats tallies stats callbacks. The hub calls them from
// connection goroutines, so counts are mutex-guarded.
type countingStats struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	frames      map[string]int
}

func (s *countingStats) ClientConnected() {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
}

func (s *countingStats) ClientDisconnected() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

func (s *countingStats) FrameSent(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(map[string]int)
	}
	s.frames[event]++
}

func (s *countingStats) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *countingStats) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func (s *countingStats) frameCount(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[event]
}

func TestFramesCounted(t *testing.T) {
	subs := []Identity{
		{TenantID: "t1", UserID: "owner", Owner: true},
		{TenantID: "t1", UserID: "granted"},
	}
	rec := newRecorder(subs...)
	stats := &countingStats{}
	perms := permission.Static{"granted": {"chat-1"}}
	b := NewBridge(rec, perms, stats, slog.New(slog.DiscardHandler))

	b.PublishStatus("t1", "connected", "")
	b.PublishMessage(context.Background(), "t1", domain.Message{ID: "m1", ChatID: "chat-1"})

	if got := stats.frameCount(EventStatus); got != 1 {
		t.Errorf("status frames = %d, want 1", got)
	}
	// One delivery to the owner, one to the granted employee.
	if got := stats.frameCount(EventMessage); got != 2 {
		t.Errorf("message frames = %d, want 2", got)
	}
}

func TestPublishStatusBroadcasts(t *testing.T) {
	rec := newRecorder()
	b := NewBridge(rec, permission.Static{}, nil, slog.New(slog.DiscardHandler))

	b.PublishStatus("t1", "disconnected", "logged out")

	if len(rec.broadcast) != 1 {
		t.Fatalf("broadcast count = %d, want 1", len(rec.broadcast))
	}
	f := decodeFrame(t, rec.broadcast[0])
	if f.Event != EventStatus || f.TenantID != "t1" {
		t.Errorf("frame = %+v", f)
	}
}

func TestPublishProgress(t *testing.T) {
	rec := newRecorder()
	b := NewBridge(rec, permission.Static{}, nil, slog.New(slog.DiscardHandler))

	b.PublishProgress("t1", domain.SyncProgress{Status: domain.SyncCompleted, Loaded: 10, Total: 10, Percentage: 100})

	if len(rec.broadcast) != 1 {
		t.Fatalf("broadcast count = %d, want 1", len(rec.broadcast))
	}
	if f := decodeFrame(t, rec.broadcast[0]); f.Event != EventLoadingChats {
		t.Errorf("event = %q, want %q", f.Event, EventLoadingChats)
	}
}

func TestPublishMessageRouting(t *testing.T) {
	subs := []Identity{
		{TenantID: "t1", UserID: "owner", Owner: true},
		{TenantID: "t1", UserID: "granted"},
		{TenantID: "t1", UserID: "other"},
	}
	rec := newRecorder(subs...)
	perms := permission.Static{"granted": {"chat-1", "chat-2"}, "other": {"chat-9"}}
	b := NewBridge(rec, perms, nil, slog.New(slog.DiscardHandler))

	b.PublishMessage(context.Background(), "t1", domain.Message{ID: "m1", ChatID: "chat-1", Body: "hi"})

	if len(rec.byUser["owner"]) != 1 {
		t.Error("owner did not receive the message")
	}
	if len(rec.byUser["granted"]) != 1 {
		t.Error("granted employee did not receive the message")
	}
	if len(rec.byUser["other"]) != 0 {
		t.Error("ungranted employee received the message")
	}
	if len(rec.broadcast) != 0 {
		t.Error("message was broadcast to the tenant channel")
	}
}
