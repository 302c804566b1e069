package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testAdmin = "42"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	repo  *repo.Repository
	cfg   config.Config
	clock *testClock
	svc   *Services
}

// newFixture wires every service over a private in-memory sqlite database.
func newFixture(t *testing.T, tweaks ...func(*config.Config)) *fixture {
	t.Helper()
	clock := newTestClock()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		NowFunc: clock.Now,
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))

	cfg := config.Default()
	cfg.Balance.AdminIDs = []string{testAdmin}
	cfg.Balance.MaxOperationsPerMinute = 1000
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, nil, nil, log, repo.WithClock(clock.Now))
	return &fixture{
		ctx:   context.Background(),
		db:    db,
		repo:  r,
		cfg:   cfg,
		clock: clock,
		svc:   NewServices(r, &cfg, log, WithClock(clock.Now)),
	}
}

func rub(raw string) model.Money { return model.MustMoney(raw, "RUB") }

func (f *fixture) fund(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, err := f.svc.Ledger.Deposit(f.ctx, userID, rub(amount), "TEST", "seed")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) *model.UserBalance {
	t.Helper()
	b, err := f.repo.GetBalance(f.ctx, f.db, userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) newOrder(t *testing.T, orderID string, userID int64, final string) *model.Order {
	t.Helper()
	ord, err := f.svc.Orders.CreateOrder(f.ctx, CreateOrderInput{
		OrderID:        orderID,
		UserID:         userID,
		StarCount:      100,
		OriginalAmount: rub(final),
		FinalAmount:    rub(final),
	})
	require.NoError(t, err)
	return ord
}

func (f *fixture) countRows(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// requireAmount compares decimals by value, since sqlite may hand back "40" for 40.00.
func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
