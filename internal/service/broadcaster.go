package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/CodeHive/internal/domain/event"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/port/broadcast"
)

// Preview lengths applied to event payloads.
const (
	resultPreviewLen = 200
	errorPreviewLen  = 200
)

// BroadcasterConfig tunes a Broadcaster. Zero values fall back to defaults.
type BroadcasterConfig struct {
	WorkerName     string
	BufferSize     int // per-subscriber queue depth
	TaskPreviewLen int // task text carried by task_start
	MaxLineLen     int // output line carried by output events
}

func (c BroadcasterConfig) withDefaults() BroadcasterConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.TaskPreviewLen <= 0 {
		c.TaskPreviewLen = 100
	}
	if c.MaxLineLen <= 0 {
		c.MaxLineLen = 500
	}
	return c
}

// Subscription is one live observer of a worker's events. Events arrive on C
// in publish order. C is closed when the subscriber is removed, either by
// Close or because it fell behind.
type Subscription struct {
	C  <-chan event.Event
	ch chan event.Event
	b  *Broadcaster
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.Unsubscribe(s)
}

// Broadcaster fans a worker's execution events out to live subscribers and
// owns the worker's status machine. Publishing never blocks: a subscriber
// whose queue is full is dropped.
type Broadcaster struct {
	cfg     BroadcasterConfig
	machine *worker.Machine
	sink    broadcast.Sink

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	now func() time.Time // for testing
}

var _ broadcast.Reporter = (*Broadcaster)(nil)

// NewBroadcaster creates a Broadcaster for one worker. The machine starts idle.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	return &Broadcaster{
		cfg:     cfg.withDefaults(),
		machine: worker.NewMachine(),
		subs:    make(map[*Subscription]struct{}),
		now:     time.Now,
	}
}

// SetSink mirrors every published event to sink. Pass nil to stop mirroring.
func (b *Broadcaster) SetSink(sink broadcast.Sink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// Subscribe registers a new observer. The first event on the returned
// subscription is a status snapshot of the worker.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan event.Event, b.cfg.BufferSize)
	sub := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	st := b.machine.Snapshot(len(b.subs))
	ch <- event.StatusSnapshot(b.cfg.WorkerName, st, b.now())

	slog.Debug("stream subscriber added", "subscribers", len(b.subs))
	return sub
}

// Unsubscribe removes sub. Removing an unknown subscription is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish delivers ev to every subscriber without blocking. Subscribers whose
// queue is full are removed.
func (b *Broadcaster) Publish(ev event.Event) {
	b.mu.Lock()
	var dropped int
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.removeLocked(sub)
			dropped++
		}
	}
	sink := b.sink
	b.mu.Unlock()

	if dropped > 0 {
		slog.Warn("dropped slow stream subscribers", "count", dropped, "event", ev.Type)
	}
	if sink != nil {
		sink.Forward(ev)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// State returns the worker's runtime state.
func (b *Broadcaster) State() worker.RuntimeState {
	return b.machine.Snapshot(b.SubscriberCount())
}

// WorkerName returns the name stamped on status frames.
func (b *Broadcaster) WorkerName() string {
	return b.cfg.WorkerName
}

// Close removes all subscribers, closing their channels. Later subscriptions
// are closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		b.removeLocked(sub)
	}
	b.closed = true
}

// TaskStart moves the worker to executing and announces the task.
func (b *Broadcaster) TaskStart(_ context.Context, taskID, text string) {
	if err := b.machine.Start(text); err != nil {
		slog.Warn("status transition rejected", "task_id", taskID, "error", err)
	}
	b.Publish(event.TaskStart(taskID, task.Preview(text, b.cfg.TaskPreviewLen), b.now()))
}

// TaskOutput records and announces one line of engine output.
func (b *Broadcaster) TaskOutput(_ context.Context, taskID, line string) {
	line = task.Preview(line, b.cfg.MaxLineLen)
	elapsed := b.machine.Output(line)
	b.Publish(event.Output(taskID, line, elapsed, b.now()))
}

// TaskComplete returns the worker to idle and announces the result.
func (b *Broadcaster) TaskComplete(_ context.Context, taskID string, success bool, result string) {
	elapsed, err := b.machine.Complete()
	if err != nil {
		slog.Warn("status transition rejected", "task_id", taskID, "error", err)
	}
	b.Publish(event.TaskComplete(taskID, success, task.Preview(result, resultPreviewLen), elapsed, b.now()))
}

// TaskError moves the worker to error and announces the failure.
func (b *Broadcaster) TaskError(_ context.Context, taskID, message string) {
	if _, err := b.machine.Fail(); err != nil {
		slog.Warn("status transition rejected", "task_id", taskID, "error", err)
	}
	b.Publish(event.TaskError(taskID, task.Preview(message, errorPreviewLen), b.now()))
}

// removeLocked must be called with b.mu held.
func (b *Broadcaster) removeLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
