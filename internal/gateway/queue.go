package gateway

import (
	"context"
	"log/slog"

	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/pkg/models"
)

// outQueue is the bounded outbound buffer. Critical envelopes block the
// producer until space frees up; everything else is dropped under
// pressure and counted.
type outQueue struct {
	ch      chan *models.Envelope
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newOutQueue(size int, metrics *observability.Metrics, logger *slog.Logger) *outQueue {
	return &outQueue{
		ch:      make(chan *models.Envelope, size),
		metrics: metrics,
		logger:  logger,
	}
}

func (q *outQueue) enqueue(ctx context.Context, env *models.Envelope) error {
	if env.Critical {
		select {
		case q.ch <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case q.ch <- env:
	default:
		q.metrics.OutboundDropped.WithLabelValues(env.EventType).Inc()
		q.logger.Warn("outbound queue full, dropping envelope", "event", env.EventType)
	}
	return nil
}

func (q *outQueue) next() <-chan *models.Envelope {
	return q.ch
}
