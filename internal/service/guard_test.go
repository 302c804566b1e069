package service

import (
	"errors"
	"testing"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_ConcurrencyCap(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Balance.MaxConcurrentOperations = 2 })
	g := f.svc.Guard

	r1, err := g.Acquire(1)
	require.NoError(t, err)
	r2, err := g.Acquire(1)
	require.NoError(t, err)

	_, err = g.Acquire(1)
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, ErrTooManyConcurrentOperations)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, g.InFlight(1))

	// other users are unaffected
	r3, err := g.Acquire(2)
	require.NoError(t, err)
	r3()

	r1()
	r1()
	assert.Equal(t, 1, g.InFlight(1))
	r4, err := g.Acquire(1)
	require.NoError(t, err)
	r2()
	r4()
	assert.Equal(t, 0, g.InFlight(1))
}

func TestGuard_RateLimitSlidingWindow(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Balance.MaxOperationsPerMinute = 3 })
	g := f.svc.Guard

	for i := 0; i < 3; i++ {
		release, err := g.Acquire(1)
		require.NoError(t, err)
		release()
		f.clock.Advance(10 * time.Second)
	}
	_, err := g.Acquire(1)
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 30*time.Second, transient.RetryAfter)
	assert.Equal(t, 0, g.InFlight(1))

	f.clock.Advance(31 * time.Second)
	release, err := g.Acquire(1)
	require.NoError(t, err)
	release()
}

func TestGuard_GuardedReleasesOnError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	err := f.svc.Guard.Guarded(1, func() error {
		assert.Equal(t, 1, f.svc.Guard.InFlight(1))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.svc.Guard.InFlight(1))
}

func TestGuard_ValidateAdminOperation(t *testing.T) {
	f := newFixture(t)
	g := f.svc.Guard

	assert.NoError(t, g.ValidateAdminOperation(testAdmin, AdminBalanceFreeze))
	assert.NoError(t, g.ValidateAdminOperation(SystemIdentity, AdminOrderStatusUpdate))
	assert.ErrorIs(t, g.ValidateAdminOperation("7", AdminBalanceFreeze), ErrUnauthorizedAdmin)
	assert.ErrorIs(t, g.ValidateAdminOperation("", AdminRefundManual), ErrUnauthorizedAdmin)
	assert.ErrorIs(t, g.ValidateAdminOperation(testAdmin, "DROP_TABLES"), ErrValidation)
}

func TestGuard_ValidateDeposit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Balance.DailyDepositLimit = decimal.NewFromInt(100) })
	g := f.svc.Guard

	cases := []struct {
		name   string
		amount model.Money
	}{
		{"unsupported currency", model.MustMoney("10", "JPY")},
		{"below minimum", rub("0.001")},
		{"three decimals", rub("10.999")},
		{"above maximum", rub("2000000")},
		{"zero", rub("0")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, g.ValidateDeposit(f.ctx, 1, tc.amount), ErrValidation)
		})
	}

	require.NoError(t, g.ValidateDeposit(f.ctx, 1, rub("80")))
	f.fund(t, 1, "80")
	assert.ErrorIs(t, g.ValidateDeposit(f.ctx, 1, rub("30")), ErrValidation)
	assert.NoError(t, g.ValidateDeposit(f.ctx, 1, rub("20")))

	// the daily window resets at UTC midnight
	f.clock.Advance(24 * time.Hour)
	assert.NoError(t, g.ValidateDeposit(f.ctx, 1, rub("30")))
}

func TestGuard_ValidateWithdrawal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "50")
	g := f.svc.Guard

	require.NoError(t, g.ValidateWithdrawal(f.ctx, 1, rub("50")))

	err := g.ValidateWithdrawal(f.ctx, 1, rub("80"))
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	requireAmount(t, "30", funds.Shortfall())

	// purchases leave the balance check to the ledger
	assert.NoError(t, g.ValidatePurchase(f.ctx, 1, rub("80")))

	_, err = f.svc.Ledger.SetFrozen(f.ctx, 1, true)
	require.NoError(t, err)
	assert.ErrorIs(t, g.ValidateWithdrawal(f.ctx, 1, rub("10")), ErrValidation)
}

func TestGuard_ValidateOrderIDAndCurrency(t *testing.T) {
	f := newFixture(t)
	g := f.svc.Guard

	assert.NoError(t, g.ValidateOrderID("AB12CD34"))
	assert.ErrorIs(t, g.ValidateOrderID("AB12CD345"), ErrValidation)
	assert.ErrorIs(t, g.ValidateOrderID("ab12"), ErrValidation)
	assert.ErrorIs(t, g.ValidateOrderID(""), ErrValidation)

	assert.NoError(t, g.ValidateCurrency("USD"))
	assert.ErrorIs(t, g.ValidateCurrency("usd"), ErrValidation)
	assert.ErrorIs(t, g.ValidateCurrency("GBP"), ErrValidation)
}
