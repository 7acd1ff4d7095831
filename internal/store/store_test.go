package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gitpan/Authen-Simple-IMAP/internal/db"
	"github.com/gitpan/Authen-Simple-IMAP/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.Migrate(sqdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(sqdb, "sqlite")
}

func TestInsertAndListAttempts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	reason := "server unreachable"
	for i, res := range []models.AttemptResult{models.AttemptAccepted, models.AttemptRejected, models.AttemptUnavailable} {
		a := models.Attempt{Username: "alice", RemoteIP: "10.0.0.1", Result: res, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if res == models.AttemptUnavailable {
			a.Reason = &reason
		}
		if _, err := st.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("insert attempt: %v", err)
		}
	}

	got, err := st.ListAttempts(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(got))
	}
	if got[0].Result != models.AttemptUnavailable || got[0].Reason == nil || *got[0].Reason != reason {
		t.Fatalf("expected newest attempt first with reason, got %+v", got[0])
	}
	if got[0].ID == "" {
		t.Fatalf("expected generated id")
	}

	one, err := st.GetAttempt(ctx, got[1].ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if one.Result != models.AttemptRejected {
		t.Fatalf("unexpected attempt %+v", one)
	}
	if _, err := st.GetAttempt(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountFailuresAndCleanup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	old := models.Attempt{Username: "bob", RemoteIP: "10.0.0.2", Result: models.AttemptRejected, CreatedAt: now.Add(-48 * time.Hour)}
	recent := models.Attempt{Username: "bob", RemoteIP: "10.0.0.2", Result: models.AttemptRejected, CreatedAt: now.Add(-time.Minute)}
	ok := models.Attempt{Username: "bob", RemoteIP: "10.0.0.2", Result: models.AttemptAccepted, CreatedAt: now}
	for _, a := range []models.Attempt{old, recent, ok} {
		if _, err := st.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("insert attempt: %v", err)
		}
	}

	n, err := st.CountFailuresSince(ctx, "bob", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recent failure, got %d", n)
	}

	removed, err := st.CleanupAttemptsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed attempt, got %d", removed)
	}
}

func TestRebindForPostgres(t *testing.T) {
	st := New(nil, "pgx")
	got := st.rebind(`SELECT 1 FROM t WHERE a=? AND b=?`)
	if got != `SELECT 1 FROM t WHERE a=$1 AND b=$2` {
		t.Fatalf("unexpected rebind %q", got)
	}
	if New(nil, "mysql").rebind(`a=?`) != `a=?` {
		t.Fatalf("mysql placeholders must be left alone")
	}
}

func TestRunRetentionSweepsOnStart(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	for _, at := range []time.Time{now.Add(-72 * time.Hour), now} {
		if _, err := st.InsertAttempt(ctx, models.Attempt{Username: "carol", Result: models.AttemptAccepted, CreatedAt: at}); err != nil {
			t.Fatalf("insert attempt: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		RunRetention(ctx, st, 24*time.Hour, time.Hour, nil)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.ListAttempts(context.Background(), 10, 0)
		if err != nil {
			t.Fatalf("list attempts: %v", err)
		}
		if len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected old attempt to be swept, still have %d", len(got))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("retention loop did not stop on cancel")
	}
}

func TestRunRetentionDisabled(t *testing.T) {
	// returns immediately instead of blocking on the ticker
	RunRetention(context.Background(), New(nil, "sqlite"), 0, time.Millisecond, nil)
}
