package repo

import (
	"context"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.BalanceTransaction) error {
	return wrapStoreError(errorSubjectTransaction, errorCodeCreate, tx.WithContext(ctx).Create(t).Error)
}

func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.BalanceTransaction, error) {
	var t model.BalanceTransaction
	if err := tx.WithContext(ctx).Where("transaction_id = ?", id).First(&t).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return &t, nil
}

func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.BalanceTransaction, error) {
	var t model.BalanceTransaction
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", id).First(&t).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return &t, nil
}

// UpdatePendingTransaction applies fields only while the row is still PENDING.
// It reports false when the row was already finalized.
func (r *Repository) UpdatePendingTransaction(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.BalanceTransaction{}).
		Where("transaction_id = ? AND status = ?", id, model.TransactionPending).
		Updates(fields)
	if res.Error != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeUpdate, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindTransactions returns matching rows newest first.
func (r *Repository) FindTransactions(ctx context.Context, tx *gorm.DB, f model.TransactionFilter) ([]model.BalanceTransaction, error) {
	q := tx.WithContext(ctx).Model(&model.BalanceTransaction{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []model.BalanceTransaction
	if err := q.Order("created_at desc").Order("transaction_id desc").Find(&out).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeQuery, err)
	}
	return out, nil
}

// FindPendingTransactions returns PENDING rows created before the cutoff, oldest first.
// A zero cutoff returns every pending row.
func (r *Repository) FindPendingTransactions(ctx context.Context, tx *gorm.DB, createdBefore time.Time, limit int) ([]model.BalanceTransaction, error) {
	q := tx.WithContext(ctx).Where("status = ?", model.TransactionPending)
	if !createdBefore.IsZero() {
		q = q.Where("created_at < ?", createdBefore)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.BalanceTransaction
	if err := q.Order("created_at").Find(&out).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeQuery, err)
	}
	return out, nil
}
