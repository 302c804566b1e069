package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewTransactionID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	id := NewTransactionID(now)
	assert.Regexp(t, `^TX1773144000000-[0-9A-F]{8}$`, id)
	assert.NotEqual(t, id, NewTransactionID(now))
}

func TestNewOrderID(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewOrderID(now)
		assert.Len(t, id, OrderIDMaxLength)
		assert.True(t, IsValidOrderID(id), id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestIsValidOrderID(t *testing.T) {
	assert.True(t, IsValidOrderID("A1"))
	assert.True(t, IsValidOrderID("ABCD1234"))
	assert.False(t, IsValidOrderID(""))
	assert.False(t, IsValidOrderID("ABCD12345"))
	assert.False(t, IsValidOrderID("abc"))
	assert.False(t, IsValidOrderID("AB-1"))
}

func TestTransactionSignedAmounts(t *testing.T) {
	ten := decimal.NewFromInt(10)
	cases := []struct {
		typ      TransactionType
		signed   int64
		reserved int64
	}{
		{TransactionDeposit, 10, 0},
		{TransactionRefund, 10, 0},
		{TransactionWithdrawal, -10, 0},
		{TransactionPurchase, -10, 0},
		{TransactionReserve, 0, 10},
		{TransactionRelease, 0, -10},
	}
	for _, tc := range cases {
		tx := BalanceTransaction{Type: tc.typ, Amount: ten}
		assert.True(t, tx.SignedAmount().Equal(decimal.NewFromInt(tc.signed)), tc.typ)
		assert.True(t, tx.ReservedDelta().Equal(decimal.NewFromInt(tc.reserved)), tc.typ)
	}
}

func TestOrderStatusHelpers(t *testing.T) {
	s, ok := ParseOrderStatus("PROCESSING")
	assert.True(t, ok)
	assert.Equal(t, OrderProcessing, s)
	_, ok = ParseOrderStatus("processing")
	assert.False(t, ok)

	assert.True(t, OrderPartialBalancePayment.IsPaid())
	assert.False(t, OrderAwaitingPayment.IsPaid())
	assert.True(t, TransactionCancelled.IsTerminal())
	assert.False(t, TransactionPending.IsTerminal())
}
