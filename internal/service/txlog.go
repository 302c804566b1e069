package service

import (
	"context"
	"errors"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionLog is the query and status-maintenance side of balance_transaction.
// Rows themselves are written by the Ledger.
type TransactionLog struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewTransactionLog(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts ...Option) *TransactionLog {
	s := newSettings(opts)
	return &TransactionLog{repo: r, log: logger, now: s.now}
}

// Append stores a record as-is. Missing id and timestamp are filled in.
func (t *TransactionLog) Append(ctx context.Context, rec *model.BalanceTransaction) error {
	if rec.TransactionID == "" {
		rec.TransactionID = model.NewTransactionID(t.now())
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	if rec.Status == "" {
		rec.Status = model.TransactionPending
	}
	return opFailed("append transaction", t.repo.CreateTransaction(ctx, t.repo.DB(ctx), rec))
}

func (t *TransactionLog) FindByID(ctx context.Context, id string) (*model.BalanceTransaction, error) {
	rec, err := t.repo.GetTransaction(ctx, t.repo.DB(ctx), id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return rec, opFailed("find transaction", err)
}

// FindByUser returns the user's history newest first.
func (t *TransactionLog) FindByUser(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.BalanceTransaction, error) {
	f.UserID = userID
	rows, err := t.repo.FindTransactions(ctx, t.repo.DB(ctx), f)
	return rows, opFailed("find transactions", err)
}

func (t *TransactionLog) FindPending(ctx context.Context) ([]model.BalanceTransaction, error) {
	rows, err := t.repo.FindPendingTransactions(ctx, t.repo.DB(ctx), time.Time{}, 0)
	return rows, opFailed("find pending", err)
}

// FindStale returns PENDING rows older than olderThan.
func (t *TransactionLog) FindStale(ctx context.Context, olderThan time.Duration) ([]model.BalanceTransaction, error) {
	rows, err := t.repo.FindPendingTransactions(ctx, t.repo.DB(ctx), t.now().Add(-olderThan), 0)
	return rows, opFailed("find stale", err)
}

// UpdateStatus abandons a PENDING record as CANCELLED or FAILED. Completion moves
// money and only happens through Ledger.ConfirmDeposit. Records already terminal
// are left untouched and ErrTerminalTransactionStatus is returned.
func (t *TransactionLog) UpdateStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	if status != model.TransactionCancelled && status != model.TransactionFailed {
		return validationErrorf("status", "cannot move a transaction to %s", status)
	}
	rec, err := t.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrTerminalTransactionStatus
	}
	fields := map[string]interface{}{"status": status}
	ok, err := t.repo.UpdatePendingTransaction(ctx, t.repo.DB(ctx), id, fields)
	if err != nil {
		return opFailed("update transaction status", err)
	}
	if !ok {
		return ErrTerminalTransactionStatus
	}
	t.log.Infow("transaction status updated", "transaction_id", id, "from", rec.Status, "to", status)
	return nil
}

// CancelStale cancels PENDING records older than olderThan. Rows that fail are
// logged and skipped; the count covers only cancelled rows.
func (t *TransactionLog) CancelStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := t.FindStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, rec := range stale {
		if err := t.UpdateStatus(ctx, rec.TransactionID, model.TransactionCancelled); err != nil {
			t.log.Warnw("stale transaction not cancelled", "transaction_id", rec.TransactionID, "error", err)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// SumCompleted totals COMPLETED amounts of the given types since the instant.
func (t *TransactionLog) SumCompleted(ctx context.Context, userID int64, types []model.TransactionType, since time.Time) (decimal.Decimal, error) {
	rows, err := t.repo.FindTransactions(ctx, t.repo.DB(ctx), model.TransactionFilter{
		UserID:   userID,
		Types:    types,
		Statuses: []model.TransactionStatus{model.TransactionCompleted},
		Since:    since,
	})
	if err != nil {
		return decimal.Zero, opFailed("sum transactions", err)
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total, nil
}
