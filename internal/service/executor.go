// Package service implements the worker's task execution and the
// controller's dispatch on top of ports.
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	hiveotel "github.com/Strob0t/CodeHive/internal/adapter/otel"
	"github.com/Strob0t/CodeHive/internal/domain"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/port/broadcast"
	"github.com/Strob0t/CodeHive/internal/port/historylog"
	"github.com/Strob0t/CodeHive/internal/port/sessionstore"
)

// NotInstalledMessage is returned when the engine binary cannot be found.
const NotInstalledMessage = "Claude Code CLI not found. Please install: npm install -g @anthropic-ai/claude-code"

// shutdownMessage is returned for tasks cancelled or refused by Close.
const shutdownMessage = "Task cancelled: worker is shutting down"

const historyPreviewLen = 200

const autonomousPreamble = `You are a remote worker executing a task autonomously.
IMPORTANT: If you encounter any issues (service not running, missing dependencies, etc.):
1. Try to diagnose and fix the problem yourself
2. Start services if needed (e.g., if Ollama is not running, start it)
3. Install missing dependencies if necessary
4. Retry the original task after fixing issues
5. Only report failure if you truly cannot solve the problem

Task: `

// ExecutorConfig configures how the engine is invoked.
type ExecutorConfig struct {
	WorkerName string
	Binary     string        // engine executable, resolved via PATH
	WorkDir    string        // working directory of the engine; empty inherits ours
	WaitDelay  time.Duration // grace for output pipes after the process is killed
}

// Executor runs one task at a time on the external reasoning engine.
// Execute never returns an error: every failure becomes a task.Result.
type Executor struct {
	cfg      ExecutorConfig
	sessions sessionstore.Store
	history  historylog.Log
	reporter broadcast.Reporter
	metrics  *hiveotel.Metrics
	slot     *semaphore.Weighted
	now      func() time.Time // for testing

	done     context.Context // cancelled by Close
	shutdown context.CancelFunc
}

// NewExecutor creates an Executor. metrics may be nil.
func NewExecutor(cfg ExecutorConfig, sessions sessionstore.Store, history historylog.Log, reporter broadcast.Reporter, metrics *hiveotel.Metrics) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	done, shutdown := context.WithCancel(context.Background())
	return &Executor{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		reporter: reporter,
		metrics:  metrics,
		slot:     semaphore.NewWeighted(1),
		now:      time.Now,
		done:     done,
		shutdown: shutdown,
	}
}

// Close kills the running task, if any, and makes later calls to Execute
// fail at once. It does not wait for the running task to return.
func (e *Executor) Close() {
	e.shutdown()
}

// Execute runs req and returns its result. The caller's cancellation does
// not stop a running task; only req's timeout or Close does. The timeout
// covers waiting for the execution slot as well as running the engine.
func (e *Executor) Execute(ctx context.Context, req task.Request) task.Result {
	start := e.now()
	ctx = context.WithoutCancel(ctx)
	timeout := req.Timeout()
	if timeout <= 0 {
		timeout = task.DefaultTimeoutSeconds * time.Second
	}
	if e.done.Err() != nil {
		return task.Failed(e.cfg.WorkerName, shutdownMessage, 0)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(e.done, cancel)
	defer stop()

	if err := e.slot.Acquire(runCtx, 1); err != nil {
		if e.done.Err() != nil {
			return task.Failed(e.cfg.WorkerName, shutdownMessage, e.now().Sub(start))
		}
		slog.Warn("task rejected, execution slot busy", "worker", e.cfg.WorkerName, "waited", e.now().Sub(start))
		return task.Failed(e.cfg.WorkerName, fmt.Sprintf("%v: another task is still running", domain.ErrBusy), e.now().Sub(start))
	}
	defer e.slot.Release(1)

	taskID := uuid.NewString()
	ctx, span := hiveotel.StartTaskSpan(ctx, taskID, e.cfg.WorkerName, !req.NewSession)
	defer span.End()

	res, outcome := e.execute(ctx, runCtx, taskID, req, timeout)

	span.SetAttributes(attribute.Bool("task.success", res.Success), attribute.String("task.outcome", outcome))
	if !res.Success {
		span.SetStatus(codes.Error, outcome)
	}
	if e.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("worker", e.cfg.WorkerName), attribute.String("outcome", outcome))
		if outcome == "exited" {
			e.metrics.TasksCompleted.Add(ctx, 1, attrs)
		} else {
			e.metrics.TasksFailed.Add(ctx, 1, attrs)
		}
		e.metrics.TaskDuration.Record(ctx, res.ExecutionTime, attrs)
	}
	return res
}

// execute holds the execution slot. ctx carries bookkeeping calls and runCtx
// bounds the engine process. Execution time is measured from here, after the
// slot was acquired. The returned outcome labels telemetry: exited, timeout,
// cancelled, not_installed, or error.
func (e *Executor) execute(ctx, runCtx context.Context, taskID string, req task.Request, timeout time.Duration) (task.Result, string) {
	start := e.now()
	e.reporter.TaskStart(ctx, taskID, req.Task)
	if e.metrics != nil {
		e.metrics.TasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", e.cfg.WorkerName)))
	}

	var resumeID string
	if req.NewSession {
		if err := e.sessions.Clear(ctx); err != nil {
			slog.Warn("failed to clear session", "task_id", taskID, "error", err)
		}
	} else {
		sess, err := e.sessions.Load(ctx)
		if err != nil {
			slog.Warn("failed to reload session, using cached copy", "task_id", taskID, "error", err)
			sess = e.sessions.Snapshot()
		}
		resumeID = sess.ID()
	}

	args := BuildArgs(req, resumeID)
	slog.Info("task started", "task_id", taskID, "worker", e.cfg.WorkerName, "resume", resumeID != "", "timeout", timeout)

	lines, exited, runErr := e.run(runCtx, taskID, args)
	elapsed := e.now().Sub(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		secs := int(timeout / time.Second)
		e.reporter.TaskError(ctx, taskID, fmt.Sprintf("Task timed out after %ds", secs))
		slog.Warn("task timed out", "task_id", taskID, "timeout", timeout)
		return task.Failed(e.cfg.WorkerName, fmt.Sprintf("Task timed out after %d seconds", secs), elapsed), "timeout"
	case runCtx.Err() != nil:
		e.reporter.TaskError(ctx, taskID, shutdownMessage)
		slog.Warn("task cancelled by shutdown", "task_id", taskID)
		return task.Failed(e.cfg.WorkerName, shutdownMessage, elapsed), "cancelled"
	case errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist):
		e.reporter.TaskError(ctx, taskID, NotInstalledMessage)
		slog.Error("engine binary not found", "binary", e.cfg.Binary, "error", runErr)
		return task.Failed(e.cfg.WorkerName, NotInstalledMessage, elapsed), "not_installed"
	case runErr != nil:
		msg := fmt.Sprintf("Unexpected error: %T: %v", runErr, runErr)
		e.reporter.TaskError(ctx, taskID, msg)
		slog.Error("task failed", "task_id", taskID, "error", runErr)
		return task.Failed(e.cfg.WorkerName, msg, elapsed), "error"
	}

	output, newID := ParseOutput(lines)
	if newID != "" {
		if err := e.sessions.Save(ctx, newID); err != nil {
			slog.Error("failed to save session", "task_id", taskID, "error", err)
		}
	}
	if err := e.sessions.IncrementTaskCount(ctx); err != nil {
		slog.Error("failed to update task count", "task_id", taskID, "error", err)
	}
	if output == "" {
		output = task.NoOutput
	}

	sessionID := newID
	if sessionID == "" {
		sessionID = resumeID
	}
	e.appendHistory(ctx, taskID, req.Task, output, elapsed, sessionID, exited)

	e.reporter.TaskComplete(ctx, taskID, exited, output)
	slog.Info("task finished", "task_id", taskID, "success", exited, "duration", elapsed)

	res := task.Result{
		Success:       exited,
		Result:        output,
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     task.Timestamp(e.now()),
		WorkerName:    e.cfg.WorkerName,
	}
	if sessionID != "" {
		res.SessionID = &sessionID
	}
	return res, "exited"
}

// run spawns the engine and drains stdout and stderr concurrently, reporting
// each non-empty line. success reports a zero exit status.
func (e *Executor) run(ctx context.Context, taskID string, args []string) (lines []string, success bool, err error) {
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	cmd.Dir = e.cfg.WorkDir
	cmd.WaitDelay = e.cfg.WaitDelay
	configureProcess(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, false, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	drain := func(r io.Reader) {
		defer wg.Done()
		br := bufio.NewReader(r)
		for {
			raw, readErr := br.ReadString('\n')
			line := strings.TrimRightFunc(strings.ToValidUTF8(raw, "\uFFFD"), unicode.IsSpace)
			if line != "" {
				mu.Lock()
				lines = append(lines, line)
				mu.Unlock()
				e.reporter.TaskOutput(ctx, taskID, line)
			}
			if readErr != nil {
				return
			}
		}
	}
	wg.Add(2)
	go drain(stdoutR)
	go drain(stderrR)

	waitErr := cmd.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	wg.Wait()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		return lines, true, nil
	case ctx.Err() != nil:
		return lines, false, ctx.Err()
	case errors.As(waitErr, &exitErr):
		return lines, false, nil
	case errors.Is(waitErr, exec.ErrWaitDelay):
		return lines, cmd.ProcessState != nil && cmd.ProcessState.Success(), nil
	default:
		return lines, false, waitErr
	}
}

// appendHistory records the task in the history log. Failures are logged only.
func (e *Executor) appendHistory(ctx context.Context, taskID, text, output string, elapsed time.Duration, sessionID string, success bool) {
	entry := task.HistoryEntry{
		ID:            taskID,
		Timestamp:     task.Timestamp(e.now()),
		Task:          task.Preview(text, historyPreviewLen),
		ResultPreview: task.Preview(output, historyPreviewLen),
		ExecutionTime: elapsed.Seconds(),
		Success:       &success,
	}
	if sessionID != "" {
		entry.SessionID = &sessionID
	}
	if err := e.history.Append(ctx, entry); err != nil {
		slog.Warn("failed to append history", "task_id", taskID, "error", err)
	}
}

// BuildArgs returns the engine arguments for req. resumeID is ignored for
// new-session requests.
func BuildArgs(req task.Request, resumeID string) []string {
	prompt := req.Task
	if req.Autonomous {
		prompt = autonomousPreamble + prompt
	}
	args := []string{"-p", prompt, "--output-format", "json"}
	if resumeID != "" && !req.NewSession {
		args = append(args, "--resume", resumeID)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	return args
}

// ParseOutput scans engine output for structured records. Each line is tried
// as a standalone JSON object; lines that are not are plain output. A later
// "result" replaces the output and a later "session_id" replaces the id.
func ParseOutput(lines []string) (output, sessionID string) {
	output = strings.Join(lines, "\n")
	for _, line := range lines {
		var rec map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if raw, ok := rec["session_id"]; ok {
			var id string
			if json.Unmarshal(raw, &id) == nil && id != "" {
				sessionID = id
			}
		}
		if raw, ok := rec["result"]; ok {
			var text string
			if json.Unmarshal(raw, &text) == nil {
				output = text
			} else if string(raw) != "null" {
				output = string(raw)
			}
		}
	}
	return output, sessionID
}
