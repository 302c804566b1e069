package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	rateWindow     = time.Minute
	SystemIdentity = "SYSTEM"
)

// Admin operation names accepted by ValidateAdminOperation.
const (
	AdminBalanceAdjustment = "BALANCE_ADJUSTMENT"
	AdminTransactionCancel = "TRANSACTION_CANCEL"
	AdminBalanceFreeze     = "BALANCE_FREEZE"
	AdminBalanceUnfreeze   = "BALANCE_UNFREEZE"
	AdminRefundManual      = "REFUND_MANUAL"
	AdminOrderStatusUpdate = "ORDER_STATUS_UPDATE"
	AdminReconcileSweep    = "RECONCILE_SWEEP"
)

var adminOperations = map[string]struct{}{
	AdminBalanceAdjustment: {},
	AdminTransactionCancel: {},
	AdminBalanceFreeze:     {},
	AdminBalanceUnfreeze:   {},
	AdminRefundManual:      {},
	AdminOrderStatusUpdate: {},
	AdminReconcileSweep:    {},
}

// Guard rejects malformed or abusive requests before they reach the Ledger.
// Per-user counters live in process memory and are safe for concurrent use.
type Guard struct {
	cfg    config.BalanceConfig
	ledger *Ledger
	txlog  *TransactionLog
	log    *zap.SugaredLogger
	now    func() time.Time

	active  sync.Map // int64 -> *atomic.Int32
	windows sync.Map // int64 -> *slidingWindow
}

type slidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

func NewGuard(cfg config.BalanceConfig, ledger *Ledger, txlog *TransactionLog, logger *zap.SugaredLogger, opts ...Option) *Guard {
	s := newSettings(opts)
	return &Guard{cfg: cfg, ledger: ledger, txlog: txlog, log: logger, now: s.now}
}

// Acquire takes one concurrent-operation slot and one rate-limit token for userID.
// The returned release is idempotent and must be deferred by the caller.
func (g *Guard) Acquire(userID int64) (func(), error) {
	v, _ := g.active.LoadOrStore(userID, new(atomic.Int32))
	counter := v.(*atomic.Int32)
	if n := counter.Add(1); int(n) > g.cfg.MaxConcurrentOperations {
		counter.Add(-1)
		g.log.Warnw("concurrent operation cap hit", "user_id", userID, "limit", g.cfg.MaxConcurrentOperations)
		return nil, &TransientError{Err: ErrTooManyConcurrentOperations, UserID: userID, RetryAfter: time.Second}
	}
	if wait, ok := g.take(userID); !ok {
		counter.Add(-1)
		g.log.Warnw("rate limit hit", "user_id", userID, "limit", g.cfg.MaxOperationsPerMinute)
		return nil, &TransientError{Err: ErrRateLimited, UserID: userID, RetryAfter: wait}
	}
	var once sync.Once
	return func() { once.Do(func() { counter.Add(-1) }) }, nil
}

// Guarded runs fn while holding a slot for userID.
func (g *Guard) Guarded(userID int64, fn func() error) error {
	release, err := g.Acquire(userID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// InFlight reports how many guarded operations userID currently holds.
func (g *Guard) InFlight(userID int64) int {
	v, ok := g.active.Load(userID)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

// take records an operation in the rolling window, or reports how long until one frees up.
func (g *Guard) take(userID int64) (time.Duration, bool) {
	v, _ := g.windows.LoadOrStore(userID, &slidingWindow{})
	w := v.(*slidingWindow)
	now := g.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-rateWindow)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept
	if len(w.stamps) >= g.cfg.MaxOperationsPerMinute {
		return w.stamps[0].Add(rateWindow).Sub(now), false
	}
	w.stamps = append(w.stamps, now)
	return 0, true
}

func (g *Guard) ValidateDeposit(ctx context.Context, userID int64, amount model.Money) error {
	if err := g.validateAmount("amount", amount, g.cfg.MinDeposit, g.cfg.MaxDeposit); err != nil {
		return err
	}
	b, err := g.ledger.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return err
	}
	if b.Frozen {
		return validationErrorf("balance", "%s", ErrBalanceFrozen.Error())
	}
	return g.checkDaily(ctx, userID, amount, []model.TransactionType{model.TransactionDeposit}, g.cfg.DailyDepositLimit, "deposit")
}

// ValidateWithdrawal also checks the spendable balance, returning *InsufficientFundsError
// when it does not cover amount.
func (g *Guard) ValidateWithdrawal(ctx context.Context, userID int64, amount model.Money) error {
	b, err := g.validateSpend(ctx, userID, amount)
	if err != nil {
		return err
	}
	if b.Available().LessThan(amount.Amount()) {
		return insufficient(b, b.Available(), amount.Amount())
	}
	return nil
}

// ValidatePurchase applies the withdrawal rules except the balance check, which the
// ledger makes against the order's own reservation as well.
func (g *Guard) ValidatePurchase(ctx context.Context, userID int64, amount model.Money) error {
	_, err := g.validateSpend(ctx, userID, amount)
	return err
}

func (g *Guard) validateSpend(ctx context.Context, userID int64, amount model.Money) (*model.UserBalance, error) {
	if err := g.validateAmount("amount", amount, g.cfg.MinWithdrawal, g.cfg.MaxWithdrawal); err != nil {
		return nil, err
	}
	b, err := g.ledger.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b.Frozen {
		return nil, validationErrorf("balance", "%s", ErrBalanceFrozen.Error())
	}
	spend := []model.TransactionType{model.TransactionWithdrawal, model.TransactionPurchase}
	if err := g.checkDaily(ctx, userID, amount, spend, g.cfg.DailyWithdrawalLimit, "withdrawal"); err != nil {
		return nil, err
	}
	return b, nil
}

func (g *Guard) ValidateOrderID(id string) error {
	if !model.IsValidOrderID(id) {
		return validationErrorf("order_id", "must be 1-%d characters of A-Z and 0-9", model.OrderIDMaxLength)
	}
	return nil
}

func (g *Guard) ValidateCurrency(code string) error {
	if !model.IsCurrencyCode(code) {
		return validationErrorf("currency", "%q is not a 3-letter uppercase code", code)
	}
	if !g.cfg.IsSupportedCurrency(code) {
		return validationErrorf("currency", "%s is not supported", code)
	}
	return nil
}

// ValidateAmountFormat checks sign and scale only.
func (g *Guard) ValidateAmountFormat(field string, amount model.Money) error {
	if !amount.IsPositive() {
		return validationErrorf(field, "must be greater than zero")
	}
	if amount.DecimalPlaces() > maxAmountScale {
		return validationErrorf(field, "at most %d decimal places allowed, got %s", maxAmountScale, amount.Amount().String())
	}
	return nil
}

// ValidateAdminOperation checks the operation name and the caller identity.
func (g *Guard) ValidateAdminOperation(adminID, operation string) error {
	if _, ok := adminOperations[operation]; !ok {
		return validationErrorf("operation", "unknown admin operation %q", operation)
	}
	if adminID == SystemIdentity {
		return nil
	}
	for _, id := range g.cfg.AdminIDs {
		if id == adminID {
			return nil
		}
	}
	g.log.Warnw("admin operation rejected", "admin_id", adminID, "operation", operation)
	return ErrUnauthorizedAdmin
}

func (g *Guard) validateAmount(field string, amount model.Money, min, max decimal.Decimal) error {
	if err := g.ValidateCurrency(amount.Currency()); err != nil {
		return err
	}
	if err := g.ValidateAmountFormat(field, amount); err != nil {
		return err
	}
	if amount.Amount().LessThan(min) {
		return validationErrorf(field, "minimum is %s, got %s", min.String(), amount.Amount().String())
	}
	if amount.Amount().GreaterThan(max) {
		return validationErrorf(field, "maximum is %s, got %s", max.String(), amount.Amount().String())
	}
	return nil
}

func (g *Guard) checkDaily(ctx context.Context, userID int64, amount model.Money, types []model.TransactionType, limit decimal.Decimal, label string) error {
	if !limit.IsPositive() {
		return nil
	}
	now := g.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	used, err := g.txlog.SumCompleted(ctx, userID, types, dayStart)
	if err != nil {
		return err
	}
	if used.Add(amount.Amount()).GreaterThan(limit) {
		return validationErrorf("amount", "daily %s limit %s exceeded (used %s)", label, limit.String(), used.String())
	}
	return nil
}
