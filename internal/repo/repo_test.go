package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		NowFunc: func() time.Time { return testNow },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return NewRepository(db, nil, nil, zap.NewNop().Sugar(), WithClock(func() time.Time { return testNow })), db
}

func TestUpdateBalance_VersionConflict(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	var first, stale *model.UserBalance
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = r.GetOrCreateBalanceForUpdate(ctx, tx, 1, "RUB")
		return err
	}))
	copyOf := *first
	stale = &copyOf

	first.CurrentBalance = decimal.NewFromInt(110)
	require.NoError(t, r.UpdateBalance(ctx, db, first))
	assert.EqualValues(t, 1, first.Version)

	stale.CurrentBalance = decimal.NewFromInt(120)
	err := r.UpdateBalance(ctx, db, stale)
	assert.ErrorIs(t, err, ErrConflict)
	var opErr OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, errorCodeConflict, opErr.Code())

	got, err := r.GetBalance(ctx, db, 1)
	require.NoError(t, err)
	assert.True(t, got.CurrentBalance.Equal(decimal.NewFromInt(110)))
}

func TestGetOrCreateBalanceForUpdate_IsIdempotent(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	a, err := r.GetOrCreateBalanceForUpdate(ctx, db, 5, "RUB")
	require.NoError(t, err)
	b, err := r.GetOrCreateBalanceForUpdate(ctx, db, 5, "USD")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "RUB", b.Currency)

	var n int64
	require.NoError(t, db.Model(&model.UserBalance{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestStoreErrors(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	_, err := r.GetOrder(ctx, db, "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	o := &model.Order{OrderID: "DUP1", UserID: 1, StarCount: 1, Currency: "RUB", Status: model.OrderCreated}
	require.NoError(t, r.CreateOrder(ctx, db, o))
	dup := *o
	err = r.CreateOrder(ctx, db, &dup)
	assert.ErrorIs(t, err, ErrConflict)

	assert.Nil(t, WrapError("store", "order", "lookup", nil))
}

func TestUpdatePendingTransaction_OnlyTouchesPending(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	tx := &model.BalanceTransaction{
		TransactionID: "TX1-AAAAAAAA", UserID: 1, Type: model.TransactionDeposit,
		Amount: decimal.NewFromInt(5), Currency: "RUB", Status: model.TransactionPending, CreatedAt: testNow,
	}
	require.NoError(t, r.CreateTransaction(ctx, db, tx))

	ok, err := r.UpdatePendingTransaction(ctx, db, tx.TransactionID, map[string]interface{}{"status": model.TransactionCancelled})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.UpdatePendingTransaction(ctx, db, tx.TransactionID, map[string]interface{}{"status": model.TransactionCompleted})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetTransaction(ctx, db, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCancelled, got.Status)
}

func TestOutbox_PollAndMark(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.CreateOutboxEvent(ctx, db, &model.OutboxEvent{
			Aggregate: model.AggregateBalance, AggregateID: "1", EventType: model.EventBalanceDeposited, Payload: "{}",
		}))
	}
	evts, err := r.PollOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)

	require.NoError(t, r.MarkOutboxProcessed(ctx, evts[0].ID))
	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, evts, 2)

	err = r.PublishEvent(ctx, evts[0])
	assert.ErrorIs(t, err, ErrPublisherDisabled)
}

func TestFindOrdersInStatus(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	old := &model.Order{OrderID: "OLD", UserID: 1, StarCount: 1, Currency: "RUB", Status: model.OrderAwaitingPayment,
		CreatedAt: testNow.Add(-3 * time.Hour), UpdatedAt: testNow.Add(-3 * time.Hour)}
	done := &model.Order{OrderID: "DONE", UserID: 1, StarCount: 1, Currency: "RUB", Status: model.OrderCompleted,
		CreatedAt: testNow.Add(-3 * time.Hour), UpdatedAt: testNow.Add(-3 * time.Hour)}
	require.NoError(t, r.CreateOrder(ctx, db, old))
	require.NoError(t, r.CreateOrder(ctx, db, done))

	found, err := r.FindOrdersInStatus(ctx, db, []model.OrderStatus{model.OrderAwaitingPayment, model.OrderCreated}, testNow.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "OLD", found[0].OrderID)
}
