package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/CodeHive/internal/domain/task"
)

// DefaultRecentLimit applies when Recent is called with a non-positive limit.
const DefaultRecentLimit = 20

// Journal records dispatched task results in the task_journal table.
// It implements journal.Journal.
type Journal struct {
	pool *pgxpool.Pool
	now  func() time.Time // for testing
}

// NewJournal returns a Journal backed by pool. Migrations must have run.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool, now: time.Now}
}

// Record stores one result. text is the task as sent by the controller.
func (j *Journal) Record(ctx context.Context, text string, res task.Result) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO task_journal (worker, task, success, result, session_id, execution_time, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.WorkerName, text, res.Success, res.Result, res.SessionID, res.ExecutionTime, j.now().UTC())
	if err != nil {
		return fmt.Errorf("record result for %s: %w", res.WorkerName, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty worker
// returns entries for all workers.
func (j *Journal) Recent(ctx context.Context, worker string, limit int) ([]task.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := j.pool.Query(ctx,
		`SELECT id, worker, task, success, result, session_id, execution_time, recorded_at
		 FROM task_journal
		 WHERE $1 = '' OR worker = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		worker, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []task.JournalEntry{}
	for rows.Next() {
		var e task.JournalEntry
		if err := rows.Scan(&e.ID, &e.Worker, &e.Task, &e.Success, &e.Result, &e.SessionID, &e.ExecutionTime, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
