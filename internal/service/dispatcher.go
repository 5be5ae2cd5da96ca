package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	hiveotel "github.com/Strob0t/CodeHive/internal/adapter/otel"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/port/fleet"
	"github.com/Strob0t/CodeHive/internal/port/journal"
)

// Assignment pairs a worker with the request it should run.
type Assignment struct {
	Worker  string
	Request task.Request
}

// Dispatcher sends tasks to one, several, or all configured workers. A
// worker's failure is reported in its own result and never affects the
// others; fan-out calls return once every worker has answered or failed.
type Dispatcher struct {
	workers   []worker.Descriptor
	index     map[string]worker.Descriptor
	newClient fleet.Factory
	limit     int

	mu      sync.Mutex
	clients map[string]fleet.Client

	journal journal.Journal
	metrics *hiveotel.Metrics
}

// NewDispatcher creates a dispatcher over workers, kept in the given order.
// fanOutLimit bounds concurrent calls; zero or less means unbounded.
func NewDispatcher(workers []worker.Descriptor, newClient fleet.Factory, fanOutLimit int) *Dispatcher {
	d := &Dispatcher{
		workers:   append([]worker.Descriptor(nil), workers...),
		index:     make(map[string]worker.Descriptor, len(workers)),
		newClient: newClient,
		limit:     fanOutLimit,
		clients:   make(map[string]fleet.Client),
	}
	for _, w := range workers {
		d.index[w.Name] = w
	}
	return d
}

// SetJournal records every result from Execute, Broadcast, and Parallel.
func (d *Dispatcher) SetJournal(j journal.Journal) {
	d.journal = j
}

// SetMetrics enables dispatch metrics.
func (d *Dispatcher) SetMetrics(m *hiveotel.Metrics) {
	d.metrics = m
}

// Workers returns the configured workers in order.
func (d *Dispatcher) Workers() []worker.Descriptor {
	return append([]worker.Descriptor(nil), d.workers...)
}

// Has reports whether name is a configured worker.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Client returns the client for name, creating it on first use.
func (d *Dispatcher) Client(name string) (fleet.Client, bool) {
	desc, ok := d.index[name]
	if !ok {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[name]
	if !ok {
		c = d.newClient(desc)
		d.clients[name] = c
	}
	return c, true
}

// HealthAll probes every worker concurrently. Results follow configuration order.
func (d *Dispatcher) HealthAll(ctx context.Context) []worker.Health {
	out := make([]worker.Health, len(d.workers))
	g := d.group()
	for i, w := range d.workers {
		g.Go(func() error {
			c, _ := d.Client(w.Name)
			ctx, span := hiveotel.StartDispatchSpan(ctx, "health", w.Name)
			defer span.End()
			out[i] = c.Health(ctx)
			span.SetAttributes(attribute.Bool("worker.online", out[i].Online))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Execute runs req on the named worker.
func (d *Dispatcher) Execute(ctx context.Context, name string, req task.Request) task.Result {
	c, ok := d.Client(name)
	if !ok {
		return task.Failed(name, fmt.Sprintf("Worker '%s' not found", name), 0)
	}

	ctx, span := hiveotel.StartDispatchSpan(ctx, "execute", name)
	defer span.End()

	res := c.Execute(ctx, req)
	span.SetAttributes(attribute.Bool("task.success", res.Success))
	if d.metrics != nil {
		d.metrics.Dispatches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("worker", name),
			attribute.Bool("success", res.Success),
		))
	}
	d.record(ctx, req.Task, res)
	return res
}

// Broadcast runs req on every worker. Results follow configuration order.
func (d *Dispatcher) Broadcast(ctx context.Context, req task.Request) []task.Result {
	assignments := make([]Assignment, len(d.workers))
	for i, w := range d.workers {
		assignments[i] = Assignment{Worker: w.Name, Request: req}
	}
	return d.Parallel(ctx, assignments)
}

// Parallel runs each assignment concurrently. Results follow assignment
// order; an unknown worker yields a failure result in its slot.
func (d *Dispatcher) Parallel(ctx context.Context, assignments []Assignment) []task.Result {
	out := make([]task.Result, len(assignments))
	g := d.group()
	for i, a := range assignments {
		g.Go(func() error {
			out[i] = d.Execute(ctx, a.Worker, a.Request)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close tears down every client created so far.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, c := range d.clients {
		c.Close()
		delete(d.clients, name)
	}
}

func (d *Dispatcher) group() *errgroup.Group {
	g := &errgroup.Group{}
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	return g
}

func (d *Dispatcher) record(ctx context.Context, text string, res task.Result) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(ctx, text, res); err != nil {
		slog.Warn("failed to journal task result", "worker", res.WorkerName, "error", err)
	}
}
