package service

import (
	"testing"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionLog_TerminalRecordsAreImmutable(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.Ledger.Deposit(f.ctx, 1, rub("10"), "TEST", "")
	require.NoError(t, err)

	for _, status := range []model.TransactionStatus{model.TransactionCancelled, model.TransactionFailed} {
		err := f.svc.Transactions.UpdateStatus(f.ctx, tx.TransactionID, status)
		assert.ErrorIs(t, err, ErrTerminalTransactionStatus, "target %s", status)
	}
	stored, err := f.svc.Transactions.FindByID(f.ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, stored.Status)
}

func TestTransactionLog_UpdateStatusRejectsNonTerminalTarget(t *testing.T) {
	f := newFixture(t)
	pending, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("10"), "TON", "")
	require.NoError(t, err)

	err = f.svc.Transactions.UpdateStatus(f.ctx, pending.TransactionID, model.TransactionPending)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.Transactions.UpdateStatus(f.ctx, pending.TransactionID, model.TransactionFailed))
	stored, err := f.svc.Transactions.FindByID(f.ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionFailed, stored.Status)
}

func TestTransactionLog_UpdateStatusCannotComplete(t *testing.T) {
	f := newFixture(t)
	pending, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("30"), "TON", "")
	require.NoError(t, err)

	err = f.svc.Transactions.UpdateStatus(f.ctx, pending.TransactionID, model.TransactionCompleted)
	assert.ErrorIs(t, err, ErrValidation)

	stored, err := f.svc.Transactions.FindByID(f.ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, stored.Status)
	requireAmount(t, "0", f.balance(t, 1).CurrentBalance)

	// completion goes through the ledger, which credits the balance
	done, err := f.svc.Ledger.ConfirmDeposit(f.ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, done.Status)
	requireAmount(t, "30", done.BalanceAfter)
	requireAmount(t, "30", f.balance(t, 1).CurrentBalance)

	report, err := f.svc.Reconciler.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestTransactionLog_FindByIDMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transactions.FindByID(f.ctx, "TX1-ABCDEF12")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionLog_CancelStaleLeavesFreshRows(t *testing.T) {
	f := newFixture(t)
	old, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("10"), "TON", "")
	require.NoError(t, err)
	f.clock.Advance(40 * time.Minute)
	fresh, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("20"), "TON", "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	stale, err := f.svc.Transactions.FindStale(f.ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.TransactionID, stale[0].TransactionID)

	n, err := f.svc.Transactions.CancelStale(f.ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Transactions.FindByID(f.ctx, old.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCancelled, got.Status)
	got, err = f.svc.Transactions.FindByID(f.ctx, fresh.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, got.Status)

	pending, err := f.svc.Transactions.FindPending(f.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestTransactionLog_FindByUserNewestFirstWithFilters(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "100")
	f.clock.Advance(time.Second)
	_, err := f.svc.Ledger.Withdraw(f.ctx, 1, rub("10"), "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.Ledger.Reserve(f.ctx, 1, "ORD9", rub("5"), "")
	require.NoError(t, err)
	f.fund(t, 2, "1")

	all, err := f.svc.Transactions.FindByUser(f.ctx, 1, model.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TransactionReserve, all[0].Type)
	assert.Equal(t, model.TransactionDeposit, all[2].Type)

	withdrawals, err := f.svc.Transactions.FindByUser(f.ctx, 1, model.TransactionFilter{
		Types: []model.TransactionType{model.TransactionWithdrawal},
	})
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)

	byOrder, err := f.svc.Transactions.FindByUser(f.ctx, 1, model.TransactionFilter{OrderID: "ORD9"})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)

	page, err := f.svc.Transactions.FindByUser(f.ctx, 1, model.TransactionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.TransactionWithdrawal, page[0].Type)
}

func TestTransactionLog_AppendFillsDefaults(t *testing.T) {
	f := newFixture(t)
	rec := &model.BalanceTransaction{UserID: 5, Type: model.TransactionDeposit, Amount: rub("1").Amount(), Currency: "RUB"}
	require.NoError(t, f.svc.Transactions.Append(f.ctx, rec))
	assert.NotEmpty(t, rec.TransactionID)
	assert.Equal(t, model.TransactionPending, rec.Status)
	assert.Equal(t, f.clock.Now(), rec.CreatedAt)
}

func TestTransactionLog_SumCompletedSince(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "10")
	f.clock.Advance(time.Hour)
	since := f.clock.Now()
	f.fund(t, 1, "15")
	_, err := f.svc.Ledger.BeginDeposit(f.ctx, 1, rub("99"), "TON", "")
	require.NoError(t, err)

	sum, err := f.svc.Transactions.SumCompleted(f.ctx, 1, []model.TransactionType{model.TransactionDeposit}, since)
	require.NoError(t, err)
	requireAmount(t, "15", sum)
}
