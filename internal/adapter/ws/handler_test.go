package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/CodeHive/internal/domain/event"
	"github.com/Strob0t/CodeHive/internal/service"
)

func dial(t *testing.T, srvURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srvURL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubStreamsEvents(t *testing.T) {
	b := service.NewBroadcaster(service.BroadcasterConfig{WorkerName: "w1"})
	hub := NewHub(b, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)

	first := readEvent(t, c)
	if first.Type != event.TypeStatus || first.WorkerName != "w1" {
		t.Fatalf("expected status snapshot first, got %+v", first)
	}
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 && b.SubscriberCount() == 1 })

	ctx := context.Background()
	b.TaskStart(ctx, "t1", "build it")
	b.TaskOutput(ctx, "t1", "line A")

	if ev := readEvent(t, c); ev.Type != event.TypeTaskStart || ev.Task != "build it" {
		t.Errorf("expected task_start, got %+v", ev)
	}
	if ev := readEvent(t, c); ev.Type != event.TypeOutput || ev.Line != "line A" {
		t.Errorf("expected output, got %+v", ev)
	}
}

func TestHubReleasesSubscriptionOnDisconnect(t *testing.T) {
	b := service.NewBroadcaster(service.BroadcasterConfig{WorkerName: "w1"})
	hub := NewHub(b, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	readEvent(t, c)
	waitFor(t, func() bool { return b.SubscriberCount() == 1 })

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return b.SubscriberCount() == 0 && hub.ConnectionCount() == 0 })
}

func TestHubClosesWhenBroadcasterCloses(t *testing.T) {
	b := service.NewBroadcaster(service.BroadcasterConfig{WorkerName: "w1"})
	hub := NewHub(b, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	readEvent(t, c)
	waitFor(t, func() bool { return b.SubscriberCount() == 1 })

	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
}
