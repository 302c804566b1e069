package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_DepositCreatesBalanceAndLogRow(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.Ledger.Deposit(f.ctx, 1, rub("100.50"), "TON", "first top-up")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionDeposit, tx.Type)
	assert.Equal(t, model.TransactionCompleted, tx.Status)
	assert.NotNil(t, tx.CompletedAt)
	requireAmount(t, "0", tx.BalanceBefore)
	requireAmount(t, "100.50", tx.BalanceAfter)
	assert.Regexp(t, `^TX\d+-[0-9A-F]{8}$`, tx.TransactionID)

	b := f.balance(t, 1)
	requireAmount(t, "100.50", b.CurrentBalance)
	requireAmount(t, "0", b.ReservedBalance)
	assert.Equal(t, "RUB", b.Currency)
	assert.EqualValues(t, 1, b.Version)
	assert.EqualValues(t, 1, f.countRows(t, &model.OutboxEvent{}, "event_type = ?", model.EventBalanceDeposited))
}

func TestLedger_DepositRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "10")

	cases := []struct {
		name   string
		amount model.Money
		kind   InvalidTransactionKind
	}{
		{"three decimals", rub("10.999"), KindFormat},
		{"zero", rub("0"), KindBusinessRule},
		{"negative", rub("-5"), KindBusinessRule},
		{"above maximum", rub("1000000.01"), KindAmountLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Ledger.Deposit(f.ctx, 1, tc.amount, "TEST", "")
			var invalid *InvalidTransactionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.kind, invalid.Kind())
			assert.ErrorIs(t, err, ErrInvalidTransaction)
		})
	}
	requireAmount(t, "10", f.balance(t, 1).CurrentBalance)
	assert.EqualValues(t, 1, f.countRows(t, &model.BalanceTransaction{}, ""))
}

func TestLedger_DepositRejectsForeignCurrency(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "10")

	_, err := f.svc.Ledger.Deposit(f.ctx, 1, model.MustMoney("5", "USD"), "TEST", "")
	var invalid *InvalidTransactionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, KindFormat, invalid.Kind())
}

func TestLedger_WithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "40")

	_, err := f.svc.Ledger.Withdraw(f.ctx, 1, rub("60"), "cash out")
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	requireAmount(t, "40", funds.CurrentBalance)
	requireAmount(t, "40", funds.AvailableBalance)
	requireAmount(t, "60", funds.RequestedAmount)
	requireAmount(t, "20", funds.Shortfall())
	requireAmount(t, "33.33", funds.ShortfallPercentage())
	assert.False(t, funds.IsCritical())

	requireAmount(t, "40", f.balance(t, 1).CurrentBalance)
}

func TestLedger_InsufficientFundsCarriesCurrentAndAvailable(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "100")
	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "HOLD1", rub("90"), "hold")
	require.NoError(t, err)

	_, err = f.svc.Ledger.Withdraw(f.ctx, 1, rub("25"), "cash out")
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	requireAmount(t, "100", funds.CurrentBalance)
	requireAmount(t, "10", funds.AvailableBalance)
	requireAmount(t, "15", funds.Shortfall())
	assert.False(t, funds.IsCritical())

	_, err = f.svc.Ledger.Withdraw(f.ctx, 1, rub("150"), "cash out")
	require.ErrorAs(t, err, &funds)
	requireAmount(t, "140", funds.Shortfall())
	assert.True(t, funds.IsCritical())
}

func TestLedger_ConcurrentWithdrawalsNeverDoubleSpend(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 7, "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Wallet.Withdraw(f.ctx, 7, rub("60"), "race")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	var funds *InsufficientFundsError
	require.ErrorAs(t, failures[0], &funds)
	requireAmount(t, "20", funds.Shortfall())
	requireAmount(t, "40", f.balance(t, 7).CurrentBalance)
}

func TestLedger_ReserveAndIdempotentRelease(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "100")

	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "ORD1", rub("30"), "hold")
	require.NoError(t, err)
	b := f.balance(t, 1)
	requireAmount(t, "100", b.CurrentBalance)
	requireAmount(t, "30", b.ReservedBalance)
	requireAmount(t, "70", b.Available())

	rel, err := f.svc.Ledger.Release(f.ctx, 1, "ORD1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	requireAmount(t, "30", rel.Amount)

	again, err := f.svc.Ledger.Release(f.ctx, 1, "ORD1")
	require.NoError(t, err)
	assert.Nil(t, again)

	b = f.balance(t, 1)
	requireAmount(t, "0", b.ReservedBalance)
	requireAmount(t, "100", b.CurrentBalance)
	assert.EqualValues(t, 1, f.countRows(t, &model.BalanceTransaction{}, "type = ?", model.TransactionRelease))
}

func TestLedger_ReserveBeyondAvailable(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "50")
	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "ORD1", rub("40"), "")
	require.NoError(t, err)

	_, err = f.svc.Ledger.Reserve(f.ctx, 1, "ORD2", rub("20"), "")
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	requireAmount(t, "10", funds.CurrentBalance)
	requireAmount(t, "40", f.balance(t, 1).ReservedBalance)
}

func TestLedger_ReserveRejectsBadOrderID(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "50")
	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "order-1", rub("10"), "")
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestLedger_ProcessPaymentConsumesOwnReservation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "50")
	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "ORD1", rub("50"), "")
	require.NoError(t, err)

	// another order cannot touch the held funds
	_, err = f.svc.Ledger.ProcessPayment(f.ctx, 1, "ORD2", rub("10"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	tx, err := f.svc.Ledger.ProcessPayment(f.ctx, 1, "ORD1", rub("50"))
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPurchase, tx.Type)
	require.NotNil(t, tx.OrderID)
	assert.Equal(t, "ORD1", *tx.OrderID)

	b := f.balance(t, 1)
	requireAmount(t, "0", b.CurrentBalance)
	requireAmount(t, "0", b.ReservedBalance)
}

func TestLedger_FrozenBalanceAcceptsOnlyRefundAndRelease(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "50")
	_, err := f.svc.Ledger.Reserve(f.ctx, 1, "ORD1", rub("20"), "")
	require.NoError(t, err)

	_, err = f.svc.Ledger.SetFrozen(f.ctx, 1, true)
	require.NoError(t, err)

	_, err = f.svc.Ledger.Deposit(f.ctx, 1, rub("5"), "TEST", "")
	assert.ErrorIs(t, err, ErrBalanceFrozen)
	_, err = f.svc.Ledger.Withdraw(f.ctx, 1, rub("5"), "")
	assert.ErrorIs(t, err, ErrBalanceFrozen)
	_, err = f.svc.Ledger.Reserve(f.ctx, 1, "ORD2", rub("5"), "")
	assert.ErrorIs(t, err, ErrBalanceFrozen)

	_, err = f.svc.Ledger.Refund(f.ctx, 1, rub("5"), "", "goodwill")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Release(f.ctx, 1, "ORD1")
	require.NoError(t, err)

	b := f.balance(t, 1)
	assert.True(t, b.Frozen)
	requireAmount(t, "55", b.CurrentBalance)
	requireAmount(t, "0", b.ReservedBalance)

	_, err = f.svc.Ledger.SetFrozen(f.ctx, 1, false)
	require.NoError(t, err)
	_, err = f.svc.Ledger.Deposit(f.ctx, 1, rub("5"), "TEST", "")
	require.NoError(t, err)
}

func TestLedger_TwoPhaseDeposit(t *testing.T) {
	f := newFixture(t)

	pending, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("25"), "YOOKASSA", "card")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, pending.Status)
	assert.Nil(t, pending.CompletedAt)
	requireAmount(t, "0", f.balance(t, 1).CurrentBalance)

	done, err := f.svc.Ledger.ConfirmDeposit(f.ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, done.Status)
	requireAmount(t, "25", done.BalanceAfter)
	requireAmount(t, "25", f.balance(t, 1).CurrentBalance)

	_, err = f.svc.Ledger.ConfirmDeposit(f.ctx, pending.TransactionID)
	assert.ErrorIs(t, err, ErrTerminalTransactionStatus)
	requireAmount(t, "25", f.balance(t, 1).CurrentBalance)

	_, err = f.svc.Ledger.ConfirmDeposit(f.ctx, "TX0-MISSING")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestLedger_BalanceMatchesLogReplay(t *testing.T) {
	f := newFixture(t)
	steps := []func() error{
		func() error { _, err := f.svc.Ledger.Deposit(f.ctx, 3, rub("100"), "TEST", ""); return err },
		func() error { _, err := f.svc.Ledger.Reserve(f.ctx, 3, "A1", rub("30"), ""); return err },
		func() error { _, err := f.svc.Ledger.Withdraw(f.ctx, 3, rub("12.34"), ""); return err },
		func() error { _, err := f.svc.Ledger.ProcessPayment(f.ctx, 3, "A1", rub("30")); return err },
		func() error { _, err := f.svc.Ledger.Refund(f.ctx, 3, rub("10"), "A1", ""); return err },
		func() error { _, err := f.svc.Ledger.Reserve(f.ctx, 3, "B2", rub("5.5"), ""); return err },
		func() error { _, err := f.svc.Ledger.Withdraw(f.ctx, 3, rub("1000"), ""); return err },
	}
	for i, step := range steps {
		err := step()
		if i == len(steps)-1 {
			require.True(t, errors.Is(err, ErrInsufficientFunds))
			continue
		}
		require.NoError(t, err)
	}

	var rows []model.BalanceTransaction
	require.NoError(t, f.db.Where("user_id = ? AND status = ?", 3, model.TransactionCompleted).Find(&rows).Error)
	current, reserved := decimal.Zero, decimal.Zero
	for _, r := range rows {
		current = current.Add(r.SignedAmount())
		reserved = reserved.Add(r.ReservedDelta())
	}
	b := f.balance(t, 3)
	requireAmount(t, current.String(), b.CurrentBalance)
	requireAmount(t, reserved.String(), b.ReservedBalance)
	requireAmount(t, "67.66", b.CurrentBalance)
	requireAmount(t, "5.5", b.ReservedBalance)
}
