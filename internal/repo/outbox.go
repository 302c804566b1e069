package repo

import (
	"context"
	"errors"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// ErrPublisherDisabled is returned by PublishEvent when no kafka writer is configured.
var ErrPublisherDisabled = errors.New("event publisher disabled")

func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = r.now()
	}
	return wrapStoreError(errorSubjectOutbox, errorCodeCreate, tx.WithContext(ctx).Create(evt).Error)
}

// PollOutbox pulls unprocessed events, oldest first.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Order("id").Limit(limit).Find(&evts).Error
	return evts, wrapStoreError(errorSubjectOutbox, errorCodeQuery, err)
}

func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := r.now()
	err := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
	return wrapStoreError(errorSubjectOutbox, errorCodeUpdate, err)
}

// PublishEvent sends the event to kafka keyed by aggregate id, so one user's or
// order's events stay in partition order.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return WrapError(errorOperationQueue, errorSubjectOutbox, errorCodePublish, ErrPublisherDisabled)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Aggregate + ":" + evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
		Time: evt.CreatedAt,
	}
	return WrapError(errorOperationQueue, errorSubjectOutbox, errorCodePublish, r.writer.WriteMessages(ctx, msg))
}
