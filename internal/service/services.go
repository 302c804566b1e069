package service

import (
	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"go.uber.org/zap"
)

// Services bundles the core components sharing one ledger, and so one set of user locks.
type Services struct {
	Ledger       *Ledger
	Transactions *TransactionLog
	Guard        *Guard
	Orders       *OrderService
	Wallet       *WalletService
	Reconciler   *Reconciler
}

func NewServices(r repo.RepositoryInterface, cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) *Services {
	ledger := NewLedger(r, cfg.Balance, logger, opts...)
	txlog := NewTransactionLog(r, logger, opts...)
	guard := NewGuard(cfg.Balance, ledger, txlog, logger, opts...)
	orders := NewOrderService(r, ledger, guard, cfg.Balance, logger, opts...)
	return &Services{
		Ledger:       ledger,
		Transactions: txlog,
		Guard:        guard,
		Orders:       orders,
		Wallet:       NewWalletService(r, ledger, guard, txlog, logger),
		Reconciler:   NewReconciler(r, txlog, orders, cfg.Reconcile, logger, opts...),
	}
}
