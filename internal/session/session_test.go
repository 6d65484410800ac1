package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/lease"
	"github.com/jkaninda/ongea/internal/messenger"
)

type fakeHandle struct {
	events chan messenger.Event

	mu        sync.Mutex
	loggedOut bool
	destroyed bool
	chats     map[string]messenger.Chat

	destroyOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events: make(chan messenger.Event, 16),
		chats:  make(map[string]messenger.Chat),
	}
}

func (h *fakeHandle) Events() <-chan messenger.Event { return h.events }

func (h *fakeHandle) ListConversations(context.Context) ([]messenger.Chat, error) {
	return nil, nil
}

func (h *fakeHandle) GetConversationByID(_ context.Context, chatID string) (*messenger.Chat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.chats[chatID]; ok {
		return &c, nil
	}
	return nil, errors.New("chat not found")
}

func (h *fakeHandle) FetchRecentMessages(context.Context, string, int, int64) ([]messenger.Message, error) {
	return nil, nil
}

func (h *fakeHandle) SendMessage(_ context.Context, chatID, body string, _ *messenger.Media) (*messenger.Message, error) {
	return &messenger.Message{ID: "sent-1", ChatID: chatID, Body: body, Timestamp: 500, FromMe: true}, nil
}

func (h *fakeHandle) FetchAvatar(context.Context, string) (string, error) { return "", nil }

func (h *fakeHandle) MarkSeen(context.Context, string) error { return nil }

func (h *fakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	h.loggedOut = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Destroy() {
	h.destroyOnce.Do(func() {
		h.mu.Lock()
		h.destroyed = true
		h.mu.Unlock()
		close(h.events)
	})
}

func (h *fakeHandle) wasDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func (h *fakeHandle) wasLoggedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggedOut
}

type fakeFactory struct {
	handle *fakeHandle
	err    error
}

func (f *fakeFactory) Open(context.Context, string) (messenger.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

type statusRecord struct {
	status string
	reason string
}

type recordingNotifier struct {
	mu       sync.Mutex
	qrs      [][]byte
	statuses []statusRecord
	chats    [][]domain.ConversationSummary
	messages []domain.Message
}

func (n *recordingNotifier) PublishQR(_ string, png []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.qrs = append(n.qrs, png)
}

func (n *recordingNotifier) PublishStatus(_ string, status, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, statusRecord{status, reason})
}

func (n *recordingNotifier) PublishChats(_ string, chats []domain.ConversationSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chats = append(n.chats, chats)
}

func (n *recordingNotifier) PublishMessage(_ context.Context, _ string, msg domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) statusCount(status string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.statuses {
		if s.status == status {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) qrCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.qrs)
}

func (n *recordingNotifier) messageCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type countingSyncer struct {
	runs atomic.Int64
}

func (s *countingSyncer) Run(context.Context) error {
	s.runs.Add(1)
	return nil
}

// countingStore wraps a lease store and counts refresh attempts.
type countingStore struct {
	lease.Store
	refreshes atomic.Int64
}

func (s *countingStore) Refresh(ctx context.Context, tenantID string) error {
	s.refreshes.Add(1)
	return s.Store.Refresh(ctx, tenantID)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
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

type fixture struct {
	store    *lease.MemoryStore
	handle   *fakeHandle
	notifier *recordingNotifier
	syncer   *countingSyncer
	co       *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    lease.NewMemoryStore(),
		handle:   newFakeHandle(),
		notifier: &recordingNotifier{},
		syncer:   &countingSyncer{},
	}
	factory := &fakeFactory{handle: f.handle}
	newSyncer := func(string, messenger.Handle, *Cache) Syncer { return f.syncer }
	f.co = NewCoordinator(f.store, factory, f.notifier, newSyncer, cfg, nil,
		slog.New(slog.DiscardHandler))
	return f
}

func TestStartAcquiresLease(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.store.Held("t1") {
		t.Error("lease not held after start")
	}
	if got := conn.State(); got != domain.StateInit {
		t.Errorf("state = %s, want %s", got, domain.StateInit)
	}
	conn.Stop(context.Background())
	if f.store.Held("t1") {
		t.Error("lease still held after stop")
	}
}

func TestStartDuplicateRejected(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.co.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := f.co.Start(context.Background(), "t1")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start error = %v, want ErrAlreadyActive", err)
	}
	f.co.StopAll(context.Background())
}

func TestStopUnknownTenant(t *testing.T) {
	f := newFixture(t, Config{})
	if f.co.Stop(context.Background(), "nobody") {
		t.Error("Stop for unknown tenant returned true")
	}
}

func TestStartLeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t, Config{})
	// Another process owns this tenant's session.
	if ok, err := f.store.Acquire(context.Background(), "t1"); err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	_, err := f.co.Start(context.Background(), "t1")
	if !errors.Is(err, ErrInitializationFailed) {
		t.Errorf("Start error = %v, want ErrInitializationFailed", err)
	}
	if !errors.Is(err, ErrLeaseUnavailable) {
		t.Errorf("Start error = %v, want ErrLeaseUnavailable in chain", err)
	}
	if f.co.Len() != 0 {
		t.Errorf("registry size = %d after failed start", f.co.Len())
	}
	if !f.store.Held("t1") {
		t.Error("foreign lease must survive a failed start")
	}
}

func TestStartGatewayOpenFails(t *testing.T) {
	f := newFixture(t, Config{})
	store := f.store
	factory := &fakeFactory{err: errors.New("bridge unreachable")}
	co := NewCoordinator(store, factory, f.notifier,
		func(string, messenger.Handle, *Cache) Syncer { return f.syncer },
		Config{}, nil, slog.New(slog.DiscardHandler))

	_, err := co.Start(context.Background(), "t1")
	if !errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("Start error = %v, want ErrInitializationFailed", err)
	}
	if store.Held("t1") {
		t.Error("lease not released after failed gateway open")
	}
	if co.Len() != 0 {
		t.Errorf("registry size = %d after failed start", co.Len())
	}
}

// blockingFactory parks Open until released so a stop can race startup.
type blockingFactory struct {
	handle  *fakeHandle
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFactory) Open(context.Context, string) (messenger.Handle, error) {
	close(f.entered)
	<-f.release
	return f.handle, nil
}

func TestStopDuringOpenDestroysHandle(t *testing.T) {
	store := lease.NewMemoryStore()
	handle := newFakeHandle()
	factory := &blockingFactory{
		handle:  handle,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	syncer := &countingSyncer{}
	co := NewCoordinator(store, factory, &recordingNotifier{},
		func(string, messenger.Handle, *Cache) Syncer { return syncer },
		Config{}, nil, slog.New(slog.DiscardHandler))

	errs := make(chan error, 1)
	go func() {
		_, err := co.Start(context.Background(), "t1")
		errs <- err
	}()
	<-factory.entered

	if !co.Stop(context.Background(), "t1") {
		t.Fatal("Stop found no registered connection")
	}
	close(factory.release)

	if err := <-errs; !errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("Start error = %v, want ErrInitializationFailed", err)
	}
	if !handle.wasDestroyed() {
		t.Error("gateway handle outlived the stopped connection")
	}
	if co.Len() != 0 {
		t.Errorf("registry size = %d after stopped start", co.Len())
	}
	if got := syncer.runs.Load(); got != 0 {
		t.Errorf("sync ran %d times on a stopped connection", got)
	}
}

func TestConnectionCodePushesQR(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.handle.events <- messenger.Event{Kind: messenger.EventConnectionCode, Code: "2@abc"}

	waitFor(t, func() bool { return conn.State() == domain.StateAwaitingScan }, "awaiting_scan")
	waitFor(t, func() bool { return f.notifier.qrCount() == 1 }, "qr push")

	png, err := conn.QR()
	if err != nil {
		t.Fatalf("QR: %v", err)
	}
	if len(png) < 8 || png[0] != 0x89 || png[1] != 'P' || png[2] != 'N' || png[3] != 'G' {
		t.Error("QR image is not a PNG")
	}
	conn.Stop(context.Background())
}

func TestReadyActivatesAndSyncs(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.handle.events <- messenger.Event{Kind: messenger.EventReady}

	waitFor(t, func() bool { return conn.State() == domain.StateActive }, "active")
	waitFor(t, func() bool { return f.syncer.runs.Load() == 1 }, "sync run")
	if got := f.notifier.statusCount("connected"); got != 1 {
		t.Errorf("connected pushes = %d, want 1", got)
	}
	if !f.store.Held("t1") {
		t.Error("lease not held after ready")
	}
	if _, err := conn.QR(); !errors.Is(err, ErrNoQRCode) {
		t.Errorf("QR after ready = %v, want ErrNoQRCode", err)
	}
	conn.Stop(context.Background())
}

func TestDuplicateReadyIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.handle.events <- messenger.Event{Kind: messenger.EventReady}
	f.handle.events <- messenger.Event{Kind: messenger.EventReady}

	waitFor(t, func() bool { return conn.State() == domain.StateActive }, "active")
	// Drain: send a message event and wait for it so both readys are handled.
	f.handle.events <- messenger.Event{Kind: messenger.EventMessage, Message: &messenger.Message{
		ID: "m1", ChatID: "34600111222@c.us", Type: "chat", Body: "hola", Timestamp: 100,
	}}
	waitFor(t, func() bool { return f.notifier.messageCount() == 1 }, "message push")

	if got := f.notifier.statusCount("connected"); got != 1 {
		t.Errorf("connected pushes = %d, want 1", got)
	}
	if got := f.syncer.runs.Load(); got != 1 {
		t.Errorf("sync runs = %d, want 1", got)
	}
	conn.Stop(context.Background())
}

func TestDisconnectTearsDown(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.handle.events <- messenger.Event{Kind: messenger.EventReady}
	waitFor(t, func() bool { return conn.State() == domain.StateActive }, "active")

	f.handle.events <- messenger.Event{Kind: messenger.EventDisconnected, Reason: "logged out on phone"}
	waitFor(t, func() bool { return conn.State() == domain.StateDisconnected }, "disconnected")
	waitFor(t, func() bool { return f.co.Len() == 0 }, "deregistration")

	if got := f.notifier.statusCount("disconnected"); got != 1 {
		t.Errorf("disconnected pushes = %d, want 1", got)
	}
	if f.store.Held("t1") {
		t.Error("lease still held after disconnect")
	}
	if !f.handle.wasDestroyed() {
		t.Error("handle not destroyed")
	}
	if conn.Cache().Len() != 0 {
		t.Error("cache not cleared")
	}
}

func TestLeaseLossSelfTeardown(t *testing.T) {
	store := &countingStore{Store: lease.NewMemoryStore()}
	mem := store.Store.(*lease.MemoryStore)
	handle := newFakeHandle()
	notifier := &recordingNotifier{}
	co := NewCoordinator(store, &fakeFactory{handle: handle}, notifier,
		func(string, messenger.Handle, *Cache) Syncer { return &countingSyncer{} },
		Config{TempRefreshInterval: 20 * time.Millisecond}, nil,
		slog.New(slog.DiscardHandler))

	conn, err := co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate expiry and takeover by another process.
	if err := mem.Release(context.Background(), "t1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	waitFor(t, func() bool { return conn.State() == domain.StateDisconnected }, "self teardown")
	waitFor(t, func() bool { return co.Len() == 0 }, "deregistration")

	if got := notifier.statusCount("disconnected"); got != 1 {
		t.Errorf("disconnected pushes = %d, want 1", got)
	}
	if !handle.wasDestroyed() {
		t.Error("handle not destroyed on lease loss")
	}
	if handle.wasLoggedOut() {
		t.Error("lease loss must not log out the remote account")
	}

	// No refresh may run after teardown.
	before := store.refreshes.Load()
	time.Sleep(100 * time.Millisecond)
	if after := store.refreshes.Load(); after != before {
		t.Errorf("refreshes continued after teardown: %d -> %d", before, after)
	}
}

func TestStopLogsOut(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.co.Start(context.Background(), "t1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.co.Stop(context.Background(), "t1") {
		t.Fatal("Stop returned false for registered session")
	}
	if !f.handle.wasLoggedOut() {
		t.Error("voluntary stop must log out the remote account")
	}
	if got := f.notifier.statusCount("disconnected"); got != 1 {
		t.Errorf("disconnected pushes = %d, want 1", got)
	}
	if f.co.Stop(context.Background(), "t1") {
		t.Error("Stop returned true for missing session")
	}
}

func TestLiveMessageUpdatesCache(t *testing.T) {
	f := newFixture(t, Config{})
	f.handle.chats["34600111222@c.us"] = messenger.Chat{
		ID: "34600111222@c.us", Name: "Ana", UnreadCount: 0,
	}
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.handle.events <- messenger.Event{Kind: messenger.EventReady}
	waitFor(t, func() bool { return conn.State() == domain.StateActive }, "active")

	f.handle.events <- messenger.Event{Kind: messenger.EventMessage, Message: &messenger.Message{
		ID: "m1", ChatID: "34600111222@c.us", Type: "chat", Body: "nos vemos mañana", Timestamp: 900,
	}}

	waitFor(t, func() bool { return conn.Cache().Len() == 1 }, "cache insert")
	snap := conn.Chats()
	if snap[0].DisplayName != "Ana" {
		t.Errorf("display name = %q, want Ana", snap[0].DisplayName)
	}
	if snap[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", snap[0].UnreadCount)
	}
	if snap[0].LastMessagePreview != "nos vemos mañana" {
		t.Errorf("preview = %q", snap[0].LastMessagePreview)
	}
	if got := f.notifier.messageCount(); got != 1 {
		t.Errorf("message pushes = %d, want 1", got)
	}
	conn.Stop(context.Background())
}

func TestGatewayOpsRequireActive(t *testing.T) {
	f := newFixture(t, Config{})
	conn, err := f.co.Start(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := conn.SendMessage(context.Background(), "x@c.us", "hi", nil); !errors.Is(err, ErrNotActive) {
		t.Errorf("SendMessage error = %v, want ErrNotActive", err)
	}
	if err := conn.MarkSeen(context.Background(), "x@c.us"); !errors.Is(err, ErrNotActive) {
		t.Errorf("MarkSeen error = %v, want ErrNotActive", err)
	}
	conn.Stop(context.Background())
}
