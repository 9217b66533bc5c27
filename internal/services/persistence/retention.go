package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRetention prunes rows older than retention every interval until ctx
// is cancelled. A non-positive retention disables pruning.
func RunRetention(ctx context.Context, s Store, retention, interval time.Duration, log *zap.SugaredLogger) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, s, retention, log)
		}
	}
}

func pruneOnce(ctx context.Context, s Store, retention time.Duration, log *zap.SugaredLogger) {
	cutoff := time.Now().Add(-retention)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := s.Prune(ctx, cutoff)
	if err != nil {
		log.Errorf("store: retention prune failed: %v", err)
		return
	}
	log.Infof("store: pruned %d rows older than %s", n, cutoff.Format(time.RFC3339))
}
