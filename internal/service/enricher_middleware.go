package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-notification-service/internal/domain/model"
)

// enricherMiddleware implements [DECORATOR_PATTERN] to add observability
// to the enrichment process without touching business logic.
type enricherMiddleware struct {
	next   Enricher
	logger *slog.Logger
}

// NewEnricherMiddleware creates a new logging decorator for the Enricher.
func NewEnricherMiddleware(next Enricher, logger *slog.Logger) Enricher {
	return &enricherMiddleware{
		next:   next,
		logger: logger,
	}
}

// Enrich wraps the batch enrichment with execution timing and outcome logging.
func (m *enricherMiddleware) Enrich(ctx context.Context, ns []*model.Notification) ([]*model.NotificationView, error) {
	start := time.Now()

	views, err := m.next.Enrich(ctx, ns)

	// [OBSERVABILITY] Scoped logging for performance auditing
	duration := time.Since(start)
	if err != nil {
		m.logger.WarnContext(ctx, "ENRICHMENT_DEGRADED",
			"err", err,
			"records", len(ns),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.logger.DebugContext(ctx, "ENRICHMENT_COMPLETED",
			"records", len(ns),
			"duration_ms", duration.Milliseconds(),
		)
	}
	return views, err
}

func (m *enricherMiddleware) Username(ctx context.Context, userID string) string {
	return m.next.Username(ctx, userID)
}
