package repo

import (
	"context"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreateOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	return wrapStoreError(errorSubjectOrder, errorCodeCreate, tx.WithContext(ctx).Create(o).Error)
}

func (r *Repository) GetOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var o model.Order
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	return &o, nil
}

func (r *Repository) GetOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var o model.Order
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	return &o, nil
}

func (r *Repository) SaveOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	o.UpdatedAt = r.now()
	return wrapStoreError(errorSubjectOrder, errorCodeUpdate, tx.WithContext(ctx).Save(o).Error)
}

func (r *Repository) FindUserOrders(ctx context.Context, tx *gorm.DB, userID int64, limit int) ([]model.Order, error) {
	q := tx.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeQuery, err)
	}
	return out, nil
}

// FindOrdersInStatus returns orders in any of statuses last touched before the cutoff.
func (r *Repository) FindOrdersInStatus(ctx context.Context, tx *gorm.DB, statuses []model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error) {
	q := tx.WithContext(ctx).Where("status IN ? AND updated_at < ?", statuses, updatedBefore).Order("updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeQuery, err)
	}
	return out, nil
}
