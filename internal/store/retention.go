package store

import (
	"context"
	"time"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
)

type attemptCleaner interface {
	CleanupAttemptsBefore(ctx context.Context, before time.Time) (int64, error)
}

// RunRetention deletes audit rows older than retention every interval until
// ctx is done. A non-positive retention disables the sweep.
func RunRetention(ctx context.Context, st attemptCleaner, retention, interval time.Duration, log authen.Logger) {
	if retention <= 0 || st == nil {
		return
	}
	log = authen.OrDiscard(log)
	if interval <= 0 {
		interval = time.Hour
	}
	sweep := func() {
		n, err := st.CleanupAttemptsBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				log.Error("audit retention sweep failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("audit retention sweep", "deleted", n)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
