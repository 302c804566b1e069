package service

import (
	"context"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Discrepancy is a balance whose stored amounts disagree with its completed log rows.
type Discrepancy struct {
	UserID           int64           `json:"user_id"`
	StoredCurrent    decimal.Decimal `json:"stored_current"`
	ExpectedCurrent  decimal.Decimal `json:"expected_current"`
	StoredReserved   decimal.Decimal `json:"stored_reserved"`
	ExpectedReserved decimal.Decimal `json:"expected_reserved"`
}

type SweepReport struct {
	CancelledTransactions int           `json:"cancelled_transactions"`
	StuckOrders           []string      `json:"stuck_orders"`
	Discrepancies         []Discrepancy `json:"discrepancies"`
	BalancesChecked       int           `json:"balances_checked"`
	Duration              time.Duration `json:"duration"`
}

// Reconciler cancels stale PENDING transactions and reports stuck orders and balance
// drift. It never touches finalized records.
type Reconciler struct {
	repo   repo.RepositoryInterface
	txlog  *TransactionLog
	orders *OrderService
	cfg    config.ReconcileConfig
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewReconciler(r repo.RepositoryInterface, txlog *TransactionLog, orders *OrderService, cfg config.ReconcileConfig, logger *zap.SugaredLogger, opts ...Option) *Reconciler {
	s := newSettings(opts)
	return &Reconciler{repo: r, txlog: txlog, orders: orders, cfg: cfg, log: logger, now: s.now}
}

// Sweep runs one pass. Individual row failures are logged and skipped.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	start := r.now()
	report := &SweepReport{StuckOrders: []string{}, Discrepancies: []Discrepancy{}}

	cancelled, err := r.txlog.CancelStale(ctx, r.cfg.StaleTransactionAge)
	if err != nil {
		return nil, err
	}
	report.CancelledTransactions = cancelled

	stuck, err := r.orders.FindStuckOrders(ctx, r.cfg.StuckOrderAge, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, o := range stuck {
		report.StuckOrders = append(report.StuckOrders, o.OrderID)
		r.log.Warnw("order stuck", "order_id", o.OrderID, "user_id", o.UserID, "status", o.Status, "updated_at", o.UpdatedAt)
	}

	if err := r.checkBalances(ctx, report); err != nil {
		return nil, err
	}
	report.Duration = r.now().Sub(start)
	r.log.Infow("reconciliation sweep finished",
		"cancelled_transactions", report.CancelledTransactions,
		"stuck_orders", len(report.StuckOrders),
		"discrepancies", len(report.Discrepancies),
		"balances_checked", report.BalancesChecked,
		"duration", report.Duration)
	return report, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.log.Infow("reconciler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Errorw("reconciliation sweep failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) checkBalances(ctx context.Context, report *SweepReport) error {
	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	var after uint64
	for {
		balances, err := r.repo.ListBalances(ctx, r.repo.DB(ctx), after, batch)
		if err != nil {
			return opFailed("list balances", err)
		}
		for _, b := range balances {
			after = b.ID
			d, err := r.checkBalance(ctx, b)
			if err != nil {
				r.log.Warnw("balance check skipped", "user_id", b.UserID, "error", err)
				continue
			}
			report.BalancesChecked++
			if d != nil {
				report.Discrepancies = append(report.Discrepancies, *d)
				r.log.Errorw("balance discrepancy",
					"user_id", d.UserID,
					"stored_current", d.StoredCurrent, "expected_current", d.ExpectedCurrent,
					"stored_reserved", d.StoredReserved, "expected_reserved", d.ExpectedReserved)
			}
		}
		if len(balances) < batch {
			return nil
		}
	}
}

func (r *Reconciler) checkBalance(ctx context.Context, b model.UserBalance) (*Discrepancy, error) {
	rows, err := r.txlog.FindByUser(ctx, b.UserID, model.TransactionFilter{
		Statuses: []model.TransactionStatus{model.TransactionCompleted},
	})
	if err != nil {
		return nil, err
	}
	current, reserved := decimal.Zero, decimal.Zero
	for _, t := range rows {
		current = current.Add(t.SignedAmount())
		reserved = reserved.Add(t.ReservedDelta())
	}
	if current.Equal(b.CurrentBalance) && reserved.Equal(b.ReservedBalance) &&
		!b.CurrentBalance.IsNegative() && !b.ReservedBalance.GreaterThan(b.CurrentBalance) {
		return nil, nil
	}
	return &Discrepancy{
		UserID:           b.UserID,
		StoredCurrent:    b.CurrentBalance,
		ExpectedCurrent:  current,
		StoredReserved:   b.ReservedBalance,
		ExpectedReserved: reserved,
	}, nil
}
