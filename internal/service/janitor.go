package service

import (
	"context"
	"log/slog"
	"time"
)

// Janitor purges records older than the retention on a fixed interval.
type Janitor struct {
	inbox     *Inbox
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewJanitor(inbox *Inbox, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{inbox: inbox, retention: retention, interval: interval, logger: logger}
}

// Enabled reports whether both the retention and the interval are set.
func (j *Janitor) Enabled() bool {
	return j.retention > 0 && j.interval > 0
}

// Run blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.inbox.Purge(ctx, j.retention); err != nil {
				j.logger.WarnContext(ctx, "PURGE_FAILED", "err", err)
			}
		}
	}
}
