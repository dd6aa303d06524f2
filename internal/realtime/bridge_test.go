package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/crewtasks/internal/websocket"
)

type fakeChannel struct {
	changes   chan websocket.Change
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{changes: make(chan websocket.Change, 64), closed: make(chan struct{})}
}

func (c *fakeChannel) Changes() <-chan websocket.Change { return c.changes }

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.changes)
	})
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	failOn   string
}

func newFakeSource() *fakeSource {
	return &fakeSource{channels: make(map[string]*fakeChannel)}
}

func (s *fakeSource) Open(_ context.Context, table string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if table == s.failOn {
		return nil, errors.New("connection refused")
	}
	ch := newFakeChannel()
	s.channels[table] = ch
	return ch, nil
}

func (s *fakeSource) channel(table string) *fakeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[table]
}

// recorder logs callback invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgeStateTransitions(t *testing.T) {
	src := newFakeSource()
	b := New(src, Handlers{}, WithLogger(slog.Default()))

	if b.State() != Disconnected {
		t.Fatalf("initial state = %v, want disconnected", b.State())
	}
	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect with no channels: %v", err)
	}

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if b.State() != Subscribed {
		t.Fatalf("state = %v, want subscribed", b.State())
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if b.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", b.State())
	}
	for _, table := range DefaultTables {
		if !src.channel(table).isClosed() {
			t.Errorf("%s channel not released", table)
		}
	}
	if err := b.Disconnect(); err != nil {
		t.Errorf("repeated disconnect: %v", err)
	}
}

func TestBridgeConnectFailureReleasesChannels(t *testing.T) {
	src := newFakeSource()
	src.failOn = "points"
	b := New(src, Handlers{})

	if err := b.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if b.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", b.State())
	}
	if !src.channel("tasks").isClosed() {
		t.Error("tasks channel left open after failed connect")
	}
}

func TestBridgeRefetchThenRefresh(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	b := New(src, Handlers{
		Refetch: func(_ context.Context, table string) error {
			rec.add("refetch:" + table)
			return nil
		},
		Refresh: func(_ context.Context, table string) {
			rec.add("refresh:" + table)
		},
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()

	src.channel("points").changes <- websocket.Change{Event: "UPDATE", Table: "points"}
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	got := rec.snapshot()
	if got[0] != "refetch:points" || got[1] != "refresh:points" {
		t.Errorf("calls = %v, want refetch then refresh", got)
	}
}

func TestBridgeSkipsRefreshWhenRefetchFails(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	b := New(src, Handlers{
		Refetch: func(context.Context, string) error {
			rec.add("refetch")
			return errors.New("storage offline")
		},
		Refresh: func(context.Context, string) { rec.add("refresh") },
	}, WithTables("tasks"))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()

	src.channel("tasks").changes <- websocket.Change{Event: "DELETE", Table: "tasks"}
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	for _, c := range rec.snapshot() {
		if c == "refresh" {
			t.Error("refresh ran after failed refetch")
		}
	}
}

func TestBridgeCoalescesBursts(t *testing.T) {
	src := newFakeSource()
	gate := make(chan struct{})
	var mu sync.Mutex
	refreshes := 0
	b := New(src, Handlers{
		Refetch: func(ctx context.Context, _ string) error {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return nil
		},
		Refresh: func(context.Context, string) {
			mu.Lock()
			refreshes++
			mu.Unlock()
		},
	}, WithTables("tasks"))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()

	const n = 10
	ch := src.channel("tasks")
	for i := 0; i < n; i++ {
		ch.changes <- websocket.Change{Event: "UPDATE", Table: "tasks"}
	}
	// Let the reader drain the burst while the first refetch is held.
	waitFor(t, func() bool { return len(ch.changes) == 0 })
	close(gate)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return refreshes >= 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := refreshes
	mu.Unlock()
	if got < 1 || got > n {
		t.Errorf("refreshes = %d, want between 1 and %d", got, n)
	}
	if got > 2 {
		t.Errorf("refreshes = %d, expected the burst to coalesce into at most 2", got)
	}
}

func TestBridgeChannelsAreIndependent(t *testing.T) {
	src := newFakeSource()
	tasksGate := make(chan struct{})
	rec := &recorder{}
	b := New(src, Handlers{
		Refetch: func(ctx context.Context, table string) error {
			if table == "tasks" {
				select {
				case <-tasksGate:
				case <-ctx.Done():
				}
			}
			return nil
		},
		Refresh: func(_ context.Context, table string) { rec.add(table) },
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect()

	src.channel("tasks").changes <- websocket.Change{Table: "tasks"}
	src.channel("points").changes <- websocket.Change{Table: "points"}

	// A stalled tasks refetch must not hold up points.
	waitFor(t, func() bool {
		calls := rec.snapshot()
		return len(calls) == 1 && calls[0] == "points"
	})
	close(tasksGate)
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
}

func TestBridgeWithHubSource(t *testing.T) {
	hub := websocket.NewHub(slog.Default())
	done := make(chan string, 4)
	b := New(HubSource{Hub: hub}, Handlers{
		Refresh: func(_ context.Context, table string) { done <- table },
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	hub.Publish("points", "UPDATE", nil)
	select {
	case table := <-done:
		if table != "points" {
			t.Errorf("refreshed %q, want points", table)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after hub publish")
	}

	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	// Publishing after disconnect must not reach the bridge.
	hub.Publish("tasks", "INSERT", nil)
	select {
	case table := <-done:
		t.Errorf("refresh for %q after disconnect", table)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStateString(t *testing.T) {
	if Disconnected.String() != "disconnected" || Subscribed.String() != "subscribed" {
		t.Errorf("got %q and %q", Disconnected, Subscribed)
	}
}
