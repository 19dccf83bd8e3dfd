package queue

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Witriol/clipdl/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipdl.db")
	conn, err := db.Open(path)
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return NewStore(conn)
}

func TestStoreLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := HistoryEntry{
		ID:        "job-1",
		URL:       "https://example.com/v",
		Title:     "clip",
		Quality:   "720p",
		Range:     "00:00:10-00:00:20",
		ProfileID: sql.NullString{String: "default", Valid: true},
	}
	if err := store.CreateJob(ctx, entry); err != nil {
		t.Fatalf("create job: %v", err)
	}
	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusDownloading || got.Quality != "720p" || got.ProfileID.String != "default" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.FinishedAt.Valid || got.ExitCode.Valid {
		t.Fatalf("fresh row already finished: %+v", got)
	}

	if err := store.MarkFinished(ctx, "job-1", StatusError, 1, "exit status 1"); err != nil {
		t.Fatalf("mark finished: %v", err)
	}
	got, err = store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusError || got.ExitCode.Int64 != 1 || got.Error.String != "exit status 1" || !got.FinishedAt.Valid {
		t.Fatalf("unexpected finished row: %+v", got)
	}
	view := toHistoryView(*got)
	if view.ExitCode == nil || *view.ExitCode != 1 || view.FinishedAt == "" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestStoreMarkFinishedWithoutExitCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateJob(ctx, HistoryEntry{ID: "j", URL: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFinished(ctx, "j", StatusCancelled, -1, ""); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetJob(ctx, "j")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExitCode.Valid || got.Error.Valid {
		t.Fatalf("expected NULL exit code and error: %+v", got)
	}
}

func TestStoreListJobsFilterAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateJob(ctx, HistoryEntry{ID: id, URL: "u/" + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.MarkFinished(ctx, "b", StatusFinished, 0, ""); err != nil {
		t.Fatal(err)
	}
	all, err := store.ListJobs(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list all: got %d", len(all))
	}
	finished, err := store.ListJobs(ctx, StatusFinished, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(finished) != 1 || finished[0].ID != "b" {
		t.Fatalf("filter: %+v", finished)
	}
	limited, err := store.ListJobs(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit: got %d", len(limited))
	}
}

func TestStoreEventsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateJob(ctx, HistoryEntry{ID: "j", URL: "u"}); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"submitted", "spawned", "finished"} {
		if err := store.AddEvent(ctx, "j", "info", msg); err != nil {
			t.Fatalf("add event: %v", err)
		}
	}
	events, err := store.ListEvents(ctx, "j", 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d", len(events))
	}
	if !strings.HasSuffix(events[0], "info finished") || !strings.HasSuffix(events[1], "info spawned") {
		t.Fatalf("events order: %v", events)
	}
}

func TestStoreMarkInterruptedAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := store.CreateJob(ctx, HistoryEntry{ID: id, URL: "u"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.AddEvent(ctx, "a", "info", "submitted"); err != nil {
		t.Fatal(err)
	}
	n, err := store.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("mark interrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("interrupted rows: got %d", n)
	}
	a, err := store.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusError || a.Error.String != "interrupted" {
		t.Fatalf("row a: %+v", a)
	}
	if err := store.ClearFinished(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rows, err := store.ListJobs(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows left: %d", len(rows))
	}
	events, err := store.ListEvents(ctx, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("events left: %v", events)
	}
}
