package testsupport

import (
	"context"
	"testing"
	"time"

	"cycaxworker/internal/config"
	"cycaxworker/internal/history"
)

// MustOpenHistory opens a history.Store for tests and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordBuild appends a finished build for jobID to the ledger.
func RecordBuild(t testing.TB, store *history.Store, jobID, state string, finished time.Time) int64 {
	t.Helper()

	id, err := store.Record(context.Background(), history.Entry{
		JobID:      jobID,
		Name:       jobID + "-scene",
		State:      state,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	})
	if err != nil {
		t.Fatalf("store.Record: %v", err)
	}
	return id
}
