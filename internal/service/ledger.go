package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAmountScale = 2

// Ledger is the only writer of user_balance. Every mutation of one user runs under
// that user's in-process lock and inside a single DB transaction that also holds
// the balance row lock, so the balance, its log rows and outbox events commit together.
type Ledger struct {
	repo  repo.RepositoryInterface
	cfg   config.BalanceConfig
	locks *userLocks
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewLedger(r repo.RepositoryInterface, cfg config.BalanceConfig, logger *zap.SugaredLogger, opts ...Option) *Ledger {
	s := newSettings(opts)
	return &Ledger{repo: r, cfg: cfg, locks: newUserLocks(), log: logger, now: s.now}
}

// entry is one ledger movement; amount is always a positive magnitude.
type entry struct {
	txType      model.TransactionType
	amount      decimal.Decimal
	orderID     string
	description string
	source      string
}

// GetOrCreateBalance returns the user's balance, creating a zero one on first access.
func (l *Ledger) GetOrCreateBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	b, err := l.repo.GetBalance(ctx, l.repo.DB(ctx), userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, opFailed("get balance", err)
	}
	err = l.withUser(ctx, userID, func(tx *gorm.DB) error {
		b, err = l.repo.GetOrCreateBalanceForUpdate(ctx, tx, userID, l.cfg.Currency)
		return err
	})
	if err != nil {
		return nil, opFailed("create balance", err)
	}
	return b, nil
}

// CachedBalance reads the balance and refills the cache while holding the user
// lock. Mutations invalidate under the same lock after commit, so a fill never
// lands on top of a newer write's invalidation.
func (l *Ledger) CachedBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()
	b, err := l.repo.GetBalance(ctx, l.repo.DB(ctx), userID)
	if errors.Is(err, repo.ErrNotFound) {
		err = l.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			b, err = l.repo.GetOrCreateBalanceForUpdate(ctx, tx, userID, l.cfg.Currency)
			return err
		})
	}
	if err != nil {
		return nil, opFailed("get balance", err)
	}
	if err := l.repo.CacheBalance(ctx, userID, *b); err != nil {
		l.log.Warnw("balance cache fill failed", "user_id", userID, "error", err)
	}
	return b, nil
}

// Deposit credits amount and records a COMPLETED DEPOSIT.
func (l *Ledger) Deposit(ctx context.Context, userID int64, amount model.Money, source, description string) (*model.BalanceTransaction, error) {
	if err := l.checkDepositAmount(amount); err != nil {
		return nil, err
	}
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		b, err := l.lockBalance(ctx, tx, userID, amount, true)
		if err != nil {
			return err
		}
		out, err = l.apply(ctx, tx, b, entry{txType: model.TransactionDeposit, amount: amount.Amount(), source: source, description: description})
		return err
	})
	return out, opFailed("deposit", err)
}

// Withdraw debits amount if the spendable balance covers it.
func (l *Ledger) Withdraw(ctx context.Context, userID int64, amount model.Money, reason string) (*model.BalanceTransaction, error) {
	if err := requirePositive(model.TransactionWithdrawal, amount); err != nil {
		return nil, err
	}
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		b, err := l.lockBalance(ctx, tx, userID, amount, true)
		if err != nil {
			return err
		}
		if b.Available().LessThan(amount.Amount()) {
			return insufficient(b, b.Available(), amount.Amount())
		}
		out, err = l.apply(ctx, tx, b, entry{txType: model.TransactionWithdrawal, amount: amount.Amount(), description: reason})
		return err
	})
	return out, opFailed("withdraw", err)
}

// Reserve earmarks amount for orderID without moving money.
func (l *Ledger) Reserve(ctx context.Context, userID int64, orderID string, amount model.Money, reason string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		var err error
		out, err = l.reserveTx(ctx, tx, userID, orderID, amount, reason)
		return err
	})
	return out, opFailed("reserve", err)
}

// Release returns whatever is still reserved for orderID. It returns a nil
// transaction when nothing is outstanding, so repeated calls are no-ops.
func (l *Ledger) Release(ctx context.Context, userID int64, orderID string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		var err error
		out, err = l.releaseTx(ctx, tx, userID, orderID)
		return err
	})
	return out, opFailed("release", err)
}

// ProcessPayment spends amount for orderID as a PURCHASE. A reservation held for the
// same order is consumed first and counts toward the spendable amount.
func (l *Ledger) ProcessPayment(ctx context.Context, userID int64, orderID string, amount model.Money) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		var err error
		out, err = l.processPaymentTx(ctx, tx, userID, orderID, amount)
		return err
	})
	return out, opFailed("process payment", err)
}

// Refund credits amount back. Frozen balances still accept refunds.
func (l *Ledger) Refund(ctx context.Context, userID int64, amount model.Money, orderID, reason string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		var err error
		out, err = l.refundTx(ctx, tx, userID, amount, orderID, reason)
		return err
	})
	return out, opFailed("refund", err)
}

// BeginDeposit records a PENDING deposit for a top-up awaiting gateway confirmation.
// The balance is untouched until ConfirmDeposit.
func (l *Ledger) BeginDeposit(ctx context.Context, userID int64, amount model.Money, source, description string) (*model.BalanceTransaction, error) {
	if err := l.checkDepositAmount(amount); err != nil {
		return nil, err
	}
	var out *model.BalanceTransaction
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		b, err := l.lockBalance(ctx, tx, userID, amount, true)
		if err != nil {
			return err
		}
		out = l.newTransaction(b, entry{txType: model.TransactionDeposit, amount: amount.Amount(), source: source, description: description})
		out.Status = model.TransactionPending
		out.CompletedAt = nil
		out.BalanceAfter = b.CurrentBalance
		return l.repo.CreateTransaction(ctx, tx, out)
	})
	return out, opFailed("begin deposit", err)
}

// ConfirmDeposit applies a PENDING deposit. Finalized transactions are rejected
// with ErrTerminalTransactionStatus.
func (l *Ledger) ConfirmDeposit(ctx context.Context, transactionID string) (*model.BalanceTransaction, error) {
	pending, err := l.repo.GetTransaction(ctx, l.repo.DB(ctx), transactionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, opFailed("confirm deposit", err)
	}
	var out *model.BalanceTransaction
	err = l.withUser(ctx, pending.UserID, func(tx *gorm.DB) error {
		b, err := l.repo.GetOrCreateBalanceForUpdate(ctx, tx, pending.UserID, l.cfg.Currency)
		if err != nil {
			return err
		}
		t, err := l.repo.GetTransactionForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != model.TransactionPending {
			return ErrTerminalTransactionStatus
		}
		if t.Type != model.TransactionDeposit {
			return &InvalidTransactionError{TransactionID: t.TransactionID, TransactionType: t.Type,
				Rule: "only deposits can be confirmed", Actual: string(t.Type), Expected: string(model.TransactionDeposit)}
		}
		now := l.now()
		before := b.CurrentBalance
		b.CurrentBalance = before.Add(t.Amount)
		ok, err := l.repo.UpdatePendingTransaction(ctx, tx, t.TransactionID, map[string]interface{}{
			"status":         model.TransactionCompleted,
			"balance_before": before,
			"balance_after":  b.CurrentBalance,
			"completed_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrTerminalTransactionStatus
		}
		if err := l.repo.UpdateBalance(ctx, tx, b); err != nil {
			return err
		}
		t.Status, t.BalanceBefore, t.BalanceAfter, t.CompletedAt = model.TransactionCompleted, before, b.CurrentBalance, &now
		out = t
		return l.emit(ctx, tx, b, t)
	})
	return out, opFailed("confirm deposit", err)
}

// SetFrozen toggles the admin freeze flag.
func (l *Ledger) SetFrozen(ctx context.Context, userID int64, frozen bool) (*model.UserBalance, error) {
	var out *model.UserBalance
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		b, err := l.repo.GetOrCreateBalanceForUpdate(ctx, tx, userID, l.cfg.Currency)
		if err != nil {
			return err
		}
		b.Frozen = frozen
		if err := l.repo.UpdateBalance(ctx, tx, b); err != nil {
			return err
		}
		out = b
		eventType := model.EventBalanceUnfrozen
		if frozen {
			eventType = model.EventBalanceFrozen
		}
		return l.outbox(ctx, tx, model.AggregateBalance, formatUserID(userID), eventType, map[string]interface{}{"user_id": userID, "frozen": frozen})
	})
	return out, opFailed("set frozen", err)
}

// withUser serializes fn with every other ledger call for userID and runs it in
// one DB transaction. The cached balance is dropped after commit.
func (l *Ledger) withUser(ctx context.Context, userID int64, fn func(tx *gorm.DB) error) error {
	unlock := l.locks.Lock(userID)
	defer unlock()
	if err := l.repo.DB(ctx).Transaction(fn); err != nil {
		return err
	}
	if err := l.repo.InvalidateBalance(ctx, userID); err != nil {
		l.log.Warnw("balance cache invalidation failed", "user_id", userID, "error", err)
	}
	return nil
}

// lockBalance takes the row lock and checks currency and freeze state.
func (l *Ledger) lockBalance(ctx context.Context, tx *gorm.DB, userID int64, amount model.Money, rejectFrozen bool) (*model.UserBalance, error) {
	b, err := l.repo.GetOrCreateBalanceForUpdate(ctx, tx, userID, l.cfg.Currency)
	if err != nil {
		return nil, err
	}
	if rejectFrozen && b.Frozen {
		return nil, ErrBalanceFrozen
	}
	if amount.Currency() != b.Currency {
		return nil, &InvalidTransactionError{Rule: "currency must match balance currency", Actual: amount.Currency(), Expected: b.Currency}
	}
	return b, nil
}

func (l *Ledger) reserveTx(ctx context.Context, tx *gorm.DB, userID int64, orderID string, amount model.Money, reason string) (*model.BalanceTransaction, error) {
	if err := requirePositive(model.TransactionReserve, amount); err != nil {
		return nil, err
	}
	if !model.IsValidOrderID(orderID) {
		return nil, &InvalidTransactionError{TransactionType: model.TransactionReserve, Rule: "order id format", Actual: orderID, Expected: "[A-Z0-9]{1,8}"}
	}
	b, err := l.lockBalance(ctx, tx, userID, amount, true)
	if err != nil {
		return nil, err
	}
	if b.Available().LessThan(amount.Amount()) {
		return nil, insufficient(b, b.Available(), amount.Amount())
	}
	return l.apply(ctx, tx, b, entry{txType: model.TransactionReserve, amount: amount.Amount(), orderID: orderID, description: reason})
}

func (l *Ledger) releaseTx(ctx context.Context, tx *gorm.DB, userID int64, orderID string) (*model.BalanceTransaction, error) {
	b, err := l.repo.GetOrCreateBalanceForUpdate(ctx, tx, userID, l.cfg.Currency)
	if err != nil {
		return nil, err
	}
	outstanding, err := l.outstandingReservation(ctx, tx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return l.releaseAmount(ctx, tx, b, orderID, outstanding)
}

func (l *Ledger) releaseAmount(ctx context.Context, tx *gorm.DB, b *model.UserBalance, orderID string, outstanding decimal.Decimal) (*model.BalanceTransaction, error) {
	if !outstanding.IsPositive() {
		return nil, nil
	}
	if outstanding.GreaterThan(b.ReservedBalance) {
		l.log.Warnw("reservation exceeds reserved balance, clamping",
			"user_id", b.UserID, "order_id", orderID, "outstanding", outstanding, "reserved", b.ReservedBalance)
		outstanding = b.ReservedBalance
	}
	return l.apply(ctx, tx, b, entry{txType: model.TransactionRelease, amount: outstanding, orderID: orderID, description: "reservation released"})
}

func (l *Ledger) processPaymentTx(ctx context.Context, tx *gorm.DB, userID int64, orderID string, amount model.Money) (*model.BalanceTransaction, error) {
	if err := requirePositive(model.TransactionPurchase, amount); err != nil {
		return nil, err
	}
	b, err := l.lockBalance(ctx, tx, userID, amount, true)
	if err != nil {
		return nil, err
	}
	held, err := l.outstandingReservation(ctx, tx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if held.IsNegative() {
		held = decimal.Zero
	}
	spendable := b.Available().Add(held)
	if spendable.LessThan(amount.Amount()) {
		return nil, insufficient(b, spendable, amount.Amount())
	}
	if _, err := l.releaseAmount(ctx, tx, b, orderID, held); err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, b, entry{txType: model.TransactionPurchase, amount: amount.Amount(), orderID: orderID, description: "order payment"})
}

func (l *Ledger) refundTx(ctx context.Context, tx *gorm.DB, userID int64, amount model.Money, orderID, reason string) (*model.BalanceTransaction, error) {
	if err := requirePositive(model.TransactionRefund, amount); err != nil {
		return nil, err
	}
	b, err := l.lockBalance(ctx, tx, userID, amount, false)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, b, entry{txType: model.TransactionRefund, amount: amount.Amount(), orderID: orderID, description: reason})
}

// outstandingReservation is RESERVE minus RELEASE over completed rows for the order.
func (l *Ledger) outstandingReservation(ctx context.Context, tx *gorm.DB, userID int64, orderID string) (decimal.Decimal, error) {
	if orderID == "" {
		return decimal.Zero, nil
	}
	rows, err := l.repo.FindTransactions(ctx, tx, model.TransactionFilter{
		UserID:   userID,
		OrderID:  orderID,
		Types:    []model.TransactionType{model.TransactionReserve, model.TransactionRelease},
		Statuses: []model.TransactionStatus{model.TransactionCompleted},
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range rows {
		total = total.Add(t.ReservedDelta())
	}
	return total, nil
}

// apply moves the balance, appends the COMPLETED log row and the outbox event.
func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, b *model.UserBalance, e entry) (*model.BalanceTransaction, error) {
	t := l.newTransaction(b, e)
	current := b.CurrentBalance.Add(t.SignedAmount())
	reserved := b.ReservedBalance.Add(t.ReservedDelta())
	if current.IsNegative() || reserved.IsNegative() || reserved.GreaterThan(current) {
		return nil, &InvalidTransactionError{TransactionID: t.TransactionID, TransactionType: t.Type,
			Rule: "balance must stay non-negative and cover reservations",
			Actual: current.String() + "/" + reserved.String(), Expected: "current >= reserved >= 0"}
	}
	t.BalanceAfter = current
	if err := l.repo.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	b.CurrentBalance, b.ReservedBalance = current, reserved
	if err := l.repo.UpdateBalance(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := l.emit(ctx, tx, b, t); err != nil {
		return nil, err
	}
	l.log.Infow("balance transaction applied",
		"transaction_id", t.TransactionID, "user_id", t.UserID, "type", t.Type,
		"amount", t.Amount, "balance_after", t.BalanceAfter, "reserved", b.ReservedBalance)
	return t, nil
}

func (l *Ledger) newTransaction(b *model.UserBalance, e entry) *model.BalanceTransaction {
	now := l.now()
	t := &model.BalanceTransaction{
		TransactionID: model.NewTransactionID(now),
		UserID:        b.UserID,
		Type:          e.txType,
		Amount:        e.amount,
		Currency:      b.Currency,
		BalanceBefore: b.CurrentBalance,
		BalanceAfter:  b.CurrentBalance,
		Status:        model.TransactionCompleted,
		Description:   e.description,
		Source:        e.source,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	if e.orderID != "" {
		orderID := e.orderID
		t.OrderID = &orderID
	}
	return t
}

var transactionEvents = map[model.TransactionType]string{
	model.TransactionDeposit:    model.EventBalanceDeposited,
	model.TransactionWithdrawal: model.EventBalanceWithdrawn,
	model.TransactionPurchase:   model.EventBalancePurchase,
	model.TransactionRefund:     model.EventBalanceRefunded,
	model.TransactionReserve:    model.EventBalanceReserved,
	model.TransactionRelease:    model.EventBalanceReleased,
}

func (l *Ledger) emit(ctx context.Context, tx *gorm.DB, b *model.UserBalance, t *model.BalanceTransaction) error {
	payload := map[string]interface{}{
		"transaction_id":   t.TransactionID,
		"user_id":          t.UserID,
		"type":             t.Type,
		"amount":           t.Amount,
		"currency":         t.Currency,
		"balance_after":    b.CurrentBalance,
		"reserved_balance": b.ReservedBalance,
	}
	if t.OrderID != nil {
		payload["order_id"] = *t.OrderID
	}
	return l.outbox(ctx, tx, model.AggregateBalance, formatUserID(t.UserID), transactionEvents[t.Type], payload)
}

func (l *Ledger) outbox(ctx context.Context, tx *gorm.DB, aggregate, aggregateID, eventType string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return l.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate: aggregate, AggregateID: aggregateID, EventType: eventType, Payload: string(raw), CreatedAt: l.now(),
	})
}

func (l *Ledger) checkDepositAmount(amount model.Money) error {
	if err := requirePositive(model.TransactionDeposit, amount); err != nil {
		return err
	}
	if amount.DecimalPlaces() > maxAmountScale {
		return &InvalidTransactionError{TransactionType: model.TransactionDeposit,
			Rule: "amount format allows at most 2 decimal places", Actual: amount.Amount().String(), Expected: "2 decimal places"}
	}
	if l.cfg.MaxDeposit.IsPositive() && amount.Amount().GreaterThan(l.cfg.MaxDeposit) {
		return &InvalidTransactionError{TransactionType: model.TransactionDeposit,
			Rule: "amount exceeds maximum deposit limit", Actual: amount.Amount().String(), Expected: "<= " + l.cfg.MaxDeposit.String()}
	}
	return nil
}

func requirePositive(txType model.TransactionType, amount model.Money) error {
	if amount.IsPositive() {
		return nil
	}
	return &InvalidTransactionError{TransactionType: txType, Rule: "amount must be positive", Actual: amount.Amount().String(), Expected: "> 0"}
}

func insufficient(b *model.UserBalance, available, requested decimal.Decimal) error {
	return &InsufficientFundsError{
		BalanceID:        b.ID,
		UserID:           b.UserID,
		CurrentBalance:   b.CurrentBalance,
		AvailableBalance: available,
		RequestedAmount:  requested,
		Currency:         b.Currency,
	}
}

func formatUserID(userID int64) string { return strconv.FormatInt(userID, 10) }
