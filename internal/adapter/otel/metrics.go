package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "codehive"

// Metrics holds the task execution and dispatch instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	Dispatches     metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("codehive.tasks.started",
		metric.WithDescription("Number of tasks handed to the engine"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("codehive.tasks.completed",
		metric.WithDescription("Number of tasks whose engine process exited"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("codehive.tasks.failed",
		metric.WithDescription("Number of tasks that timed out or could not run"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("codehive.task.duration_seconds",
		metric.WithDescription("Task execution time in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Dispatches, err = meter.Int64Counter("codehive.dispatches",
		metric.WithDescription("Number of tasks sent to workers by the controller"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
