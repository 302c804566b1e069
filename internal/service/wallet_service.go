package service

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"go.uber.org/zap"
)

const sourceAdmin = "ADMIN"

// WalletService is the guarded entry point for balance reads, top-ups and admin
// balance operations. Order-linked spending goes through OrderService instead.
type WalletService struct {
	repo   repo.RepositoryInterface
	ledger *Ledger
	guard  *Guard
	txlog  *TransactionLog
	log    *zap.SugaredLogger
}

func NewWalletService(r repo.RepositoryInterface, ledger *Ledger, guard *Guard, txlog *TransactionLog, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, ledger: ledger, guard: guard, txlog: txlog, log: logger}
}

// GetBalance returns the cached balance when present, else reads (or creates) it.
func (s *WalletService) GetBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	cached, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("balance cache read failed", "user_id", userID, "error", err)
	}
	return s.ledger.CachedBalance(ctx, userID)
}

// TopUp credits a confirmed payment immediately.
func (s *WalletService) TopUp(ctx context.Context, userID int64, amount model.Money, source, description string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := s.guard.Guarded(userID, func() error {
		if err := s.guard.ValidateDeposit(ctx, userID, amount); err != nil {
			return err
		}
		var err error
		out, err = s.ledger.Deposit(ctx, userID, amount, source, description)
		return err
	})
	return out, err
}

// BeginTopUp opens a PENDING deposit to be confirmed by the payment gateway.
func (s *WalletService) BeginTopUp(ctx context.Context, userID int64, amount model.Money, source string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := s.guard.Guarded(userID, func() error {
		if err := s.guard.ValidateDeposit(ctx, userID, amount); err != nil {
			return err
		}
		var err error
		out, err = s.ledger.BeginDeposit(ctx, userID, amount, source, "top-up via "+source)
		return err
	})
	return out, err
}

func (s *WalletService) ConfirmTopUp(ctx context.Context, transactionID string) (*model.BalanceTransaction, error) {
	return s.ledger.ConfirmDeposit(ctx, transactionID)
}

// CancelTopUp abandons a PENDING deposit, e.g. when the gateway reports a decline.
func (s *WalletService) CancelTopUp(ctx context.Context, transactionID string) error {
	t, err := s.txlog.FindByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.Type != model.TransactionDeposit {
		return validationErrorf("transaction_id", "%s is not a deposit", transactionID)
	}
	return s.txlog.UpdateStatus(ctx, transactionID, model.TransactionCancelled)
}

func (s *WalletService) Withdraw(ctx context.Context, userID int64, amount model.Money, reason string) (*model.BalanceTransaction, error) {
	var out *model.BalanceTransaction
	err := s.guard.Guarded(userID, func() error {
		if err := s.guard.ValidateWithdrawal(ctx, userID, amount); err != nil {
			return err
		}
		var err error
		out, err = s.ledger.Withdraw(ctx, userID, amount, reason)
		return err
	})
	return out, err
}

func (s *WalletService) History(ctx context.Context, userID int64, f model.TransactionFilter) ([]model.BalanceTransaction, error) {
	return s.txlog.FindByUser(ctx, userID, f)
}

// AdminAdjustBalance credits a positive delta or debits a negative one.
func (s *WalletService) AdminAdjustBalance(ctx context.Context, adminID string, userID int64, delta model.Money, reason string) (*model.BalanceTransaction, error) {
	if err := s.guard.ValidateAdminOperation(adminID, AdminBalanceAdjustment); err != nil {
		return nil, err
	}
	s.log.Infow("admin balance adjustment", "admin_id", adminID, "user_id", userID, "delta", delta.String(), "reason", reason)
	if delta.IsNegative() {
		debit, err := model.NewMoney(delta.Amount().Neg(), delta.Currency())
		if err != nil {
			return nil, validationErrorf("delta", "%v", err)
		}
		return s.ledger.Withdraw(ctx, userID, debit, reason)
	}
	return s.ledger.Deposit(ctx, userID, delta, sourceAdmin, reason)
}

func (s *WalletService) AdminCancelTransaction(ctx context.Context, adminID, transactionID string) error {
	if err := s.guard.ValidateAdminOperation(adminID, AdminTransactionCancel); err != nil {
		return err
	}
	s.log.Infow("admin transaction cancel", "admin_id", adminID, "transaction_id", transactionID)
	return s.txlog.UpdateStatus(ctx, transactionID, model.TransactionCancelled)
}

func (s *WalletService) AdminFreeze(ctx context.Context, adminID string, userID int64) (*model.UserBalance, error) {
	if err := s.guard.ValidateAdminOperation(adminID, AdminBalanceFreeze); err != nil {
		return nil, err
	}
	return s.ledger.SetFrozen(ctx, userID, true)
}

func (s *WalletService) AdminUnfreeze(ctx context.Context, adminID string, userID int64) (*model.UserBalance, error) {
	if err := s.guard.ValidateAdminOperation(adminID, AdminBalanceUnfreeze); err != nil {
		return nil, err
	}
	return s.ledger.SetFrozen(ctx, userID, false)
}

func (s *WalletService) AdminManualRefund(ctx context.Context, adminID string, userID int64, amount model.Money, orderID, reason string) (*model.BalanceTransaction, error) {
	if err := s.guard.ValidateAdminOperation(adminID, AdminRefundManual); err != nil {
		return nil, err
	}
	if orderID != "" {
		if err := s.guard.ValidateOrderID(orderID); err != nil {
			return nil, err
		}
	}
	s.log.Infow("admin manual refund", "admin_id", adminID, "user_id", userID, "amount", amount.String(), "order_id", orderID)
	return s.ledger.Refund(ctx, userID, amount, orderID, reason)
}
