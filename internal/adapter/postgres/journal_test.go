package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/CodeHive/internal/adapter/postgres"
	"github.com/Strob0t/CodeHive/internal/config"
	"github.com/Strob0t/CodeHive/internal/domain/task"
)

// setupJournal connects to DATABASE_URL, runs migrations and empties the
// journal table. The pool is closed via t.Cleanup.
func setupJournal(t *testing.T) *postgres.Journal {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.HiveDefaults().Journal
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "TRUNCATE task_journal"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return postgres.NewJournal(pool)
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	sid := "sess-1"
	results := []struct {
		text string
		res  task.Result
	}{
		{"first", task.Result{WorkerName: "w1", Success: true, Result: "ok", SessionID: &sid, ExecutionTime: 1.5}},
		{"second", task.Result{WorkerName: "w2", Success: false, Result: "Task timed out after 5 seconds", ExecutionTime: 5}},
		{"third", task.Result{WorkerName: "w1", Success: true, Result: "done"}},
	}
	for _, r := range results {
		if err := j.Record(ctx, r.text, r.res); err != nil {
			t.Fatalf("record %s: %v", r.text, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	all, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 || all[0].Task != "third" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	w1, err := j.Recent(ctx, "w1", 10)
	if err != nil {
		t.Fatalf("recent w1: %v", err)
	}
	if len(w1) != 2 {
		t.Fatalf("expected 2 entries for w1, got %d", len(w1))
	}
	if w1[1].SessionID == nil || *w1[1].SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %v", w1[1].SessionID)
	}

	one, err := j.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("recent limit: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("expected limit 1, got %d", len(one))
	}
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Errorf("expected version >= 1, got %d", v)
	}
}
