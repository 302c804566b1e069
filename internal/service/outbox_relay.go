package service

import (
	"context"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"go.uber.org/zap"
)

// EventSource is the outbox side of the repository.
type EventSource interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// OutboxRelay forwards committed outbox rows to the broker. Delivery is at least once:
// an event that published but failed to be marked goes out again next tick.
type OutboxRelay struct {
	src   EventSource
	batch int
	log   *zap.SugaredLogger
}

func NewOutboxRelay(src EventSource, batch int, logger *zap.SugaredLogger) *OutboxRelay {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{src: src, batch: batch, log: logger}
}

// RunOnce publishes one batch and returns how many events were marked processed.
// Events that fail are left for the next call.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.src.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.src.PublishEvent(ctx, evt); err != nil {
			r.log.Errorw("publish failed", "event_id", evt.ID, "event_type", evt.EventType, "error", err)
			continue
		}
		if err := r.src.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorw("mark processed failed", "event_id", evt.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.log.Infow("outbox relay started", "interval", interval, "batch", r.batch)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Errorw("poll outbox failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.Debugw("outbox events sent", "count", n)
			}
		}
	}
}
