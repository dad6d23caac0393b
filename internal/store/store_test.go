package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("infrawiz"),
		postgres.WithUsername("infrawiz"),
		postgres.WithPassword("infrawiz_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	pool, err := Open(ctx, connStr, 4)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	// schema is idempotent
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("second migrate: %s", err)
	}

	queries := New(pool)

	t.Run("CreateWatch", func(t *testing.T) {
		w, err := queries.CreateWatch(ctx, CreateWatchParams{
			WatchID:     "w-1",
			WorkspaceID: "ws-1",
			Kind:        "provision",
			JobID:       "17",
		})
		if err != nil {
			t.Fatalf("failed to create watch: %s", err)
		}
		if w.Status != WatchRunning {
			t.Errorf("expected status running, got %s", w.Status)
		}
		if string(w.Logs) != "[]" {
			t.Errorf("expected empty logs, got %s", w.Logs)
		}
	})

	t.Run("OneRunningWatchPerKind", func(t *testing.T) {
		_, err := queries.CreateWatch(ctx, CreateWatchParams{
			WatchID: "w-2", WorkspaceID: "ws-1", Kind: "provision", JobID: "18",
		})
		if !IsUniqueViolation(err) {
			t.Fatalf("expected unique violation, got %v", err)
		}
		// another kind is fine
		if _, err := queries.CreateWatch(ctx, CreateWatchParams{
			WatchID: "w-3", WorkspaceID: "ws-1", Kind: "app_deploy", JobID: "a1",
		}); err != nil {
			t.Fatalf("create app_deploy watch: %s", err)
		}
	})

	t.Run("GetRunningWatch", func(t *testing.T) {
		w, err := queries.GetRunningWatch(ctx, GetRunningWatchParams{WorkspaceID: "ws-1", Kind: "provision"})
		if err != nil {
			t.Fatalf("get running watch: %s", err)
		}
		if w.WatchID != "w-1" {
			t.Errorf("expected w-1, got %s", w.WatchID)
		}
		_, err = queries.GetRunningWatch(ctx, GetRunningWatchParams{WorkspaceID: "ws-1", Kind: "destroy"})
		if !IsNotFound(err) {
			t.Errorf("expected no rows, got %v", err)
		}
	})

	t.Run("UpdateAndFinish", func(t *testing.T) {
		n, err := queries.UpdateWatchProgress(ctx, UpdateWatchProgressParams{
			WatchID: "w-1", JobStatus: "running", Logs: []byte(`[{"message":"plan"}]`), Ticks: 2,
		})
		if err != nil || n != 1 {
			t.Fatalf("update progress: n=%d err=%v", n, err)
		}
		w, err := queries.FinishWatch(ctx, FinishWatchParams{
			WatchID: "w-1", Status: WatchSucceeded, JobStatus: "completed",
			Logs: []byte(`[{"message":"apply"}]`), Ticks: 3,
		})
		if err != nil {
			t.Fatalf("finish watch: %s", err)
		}
		if w.Status != WatchSucceeded || w.Ticks != 3 || !w.EndedAt.Valid {
			t.Errorf("unexpected finished watch: %+v", w)
		}
		if _, err := queries.FinishWatch(ctx, FinishWatchParams{WatchID: "w-1", Status: WatchFailed}); !IsNotFound(err) {
			t.Errorf("finishing twice should match no rows, got %v", err)
		}
	})

	t.Run("SupersedeAndCancel", func(t *testing.T) {
		if _, err := queries.CreateWatch(ctx, CreateWatchParams{
			WatchID: "w-4", WorkspaceID: "ws-1", Kind: "provision", JobID: "19",
		}); err != nil {
			t.Fatalf("create after finish: %s", err)
		}
		n, err := queries.SupersedeRunningWatches(ctx, SupersedeRunningWatchesParams{
			WorkspaceID: "ws-1", Kind: "provision", JobID: "19",
		})
		if err != nil || n != 0 {
			t.Fatalf("same job must not be superseded: n=%d err=%v", n, err)
		}
		n, err = queries.SupersedeRunningWatches(ctx, SupersedeRunningWatchesParams{
			WorkspaceID: "ws-1", Kind: "provision", JobID: "20",
		})
		if err != nil || n != 1 {
			t.Fatalf("supersede: n=%d err=%v", n, err)
		}
		w, err := queries.CancelWatch(ctx, "w-3")
		if err != nil {
			t.Fatalf("cancel: %s", err)
		}
		if w.Status != WatchCanceled {
			t.Errorf("expected canceled, got %s", w.Status)
		}
	})

	t.Run("ListWatches", func(t *testing.T) {
		all, err := queries.ListWatches(ctx, ListWatchesParams{Limit: 10})
		if err != nil {
			t.Fatalf("list: %s", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 watches, got %d", len(all))
		}
		canceled, err := queries.ListWatches(ctx, ListWatchesParams{
			WorkspaceID: pgtype.Text{String: "ws-1", Valid: true},
			Status:      pgtype.Text{String: WatchCanceled, Valid: true},
			Limit:       10,
		})
		if err != nil {
			t.Fatalf("list canceled: %s", err)
		}
		if len(canceled) != 2 {
			t.Errorf("expected 2 canceled watches, got %d", len(canceled))
		}
		running, err := queries.ListRunningWatches(ctx)
		if err != nil {
			t.Fatalf("list running: %s", err)
		}
		if len(running) != 0 {
			t.Errorf("expected no running watches, got %d", len(running))
		}
	})
}
