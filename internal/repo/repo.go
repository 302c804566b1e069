package repo

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepositoryInterface is everything the services need from storage. Methods taking
// tx run inside the caller's transaction.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetOrCreateBalanceForUpdate(ctx context.Context, tx *gorm.DB, userID int64, currency string) (*model.UserBalance, error)
	GetBalance(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserBalance, error)
	ListBalances(ctx context.Context, tx *gorm.DB, afterID uint64, limit int) ([]model.UserBalance, error)
	UpdateBalance(ctx context.Context, tx *gorm.DB, b *model.UserBalance) error

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.BalanceTransaction) error
	GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.BalanceTransaction, error)
	GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.BalanceTransaction, error)
	UpdatePendingTransaction(ctx context.Context, tx *gorm.DB, id string, fields map[string]interface{}) (bool, error)
	FindTransactions(ctx context.Context, tx *gorm.DB, f model.TransactionFilter) ([]model.BalanceTransaction, error)
	FindPendingTransactions(ctx context.Context, tx *gorm.DB, createdBefore time.Time, limit int) ([]model.BalanceTransaction, error)

	CreateOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error
	GetOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	GetOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	SaveOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error
	FindUserOrders(ctx context.Context, tx *gorm.DB, userID int64, limit int) ([]model.Order, error)
	FindOrdersInStatus(ctx context.Context, tx *gorm.DB, statuses []model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, userID int64, b model.UserBalance) error
	GetCachedBalance(ctx context.Context, userID int64) (*model.UserBalance, error)
	InvalidateBalance(ctx context.Context, userID int64) error
	CacheOrder(ctx context.Context, o model.Order) error
	GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error)
	InvalidateOrder(ctx context.Context, orderID string) error
}

// Repository implements RepositoryInterface on gorm, redis and kafka. rdb and writer may be nil,
// which disables caching and publishing respectively.
type Repository struct {
	db         *gorm.DB
	rdb        *redis.Client
	writer     *kafka.Writer
	log        *zap.SugaredLogger
	balanceTTL time.Duration
	orderTTL   time.Duration
	now        func() time.Time
}

type Option func(*Repository)

// WithCacheTTL overrides how long balances and orders stay in redis.
func WithCacheTTL(balance, order time.Duration) Option {
	return func(r *Repository) {
		r.balanceTTL = balance
		r.orderTTL = order
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger, opts ...Option) *Repository {
	r := &Repository{
		db:         db,
		rdb:        rdb,
		writer:     w,
		log:        logger,
		balanceTTL: 30 * time.Second,
		orderTTL:   30 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.UserBalance{}, &model.BalanceTransaction{}, &model.Order{}, &model.OutboxEvent{})
}

func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetOrCreateBalanceForUpdate inserts a zero balance if absent and returns the row locked.
func (r *Repository) GetOrCreateBalanceForUpdate(ctx context.Context, tx *gorm.DB, userID int64, currency string) (*model.UserBalance, error) {
	now := r.now()
	seed := model.UserBalance{UserID: userID, Currency: currency, CreatedAt: now, UpdatedAt: now}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
	}
	var b model.UserBalance
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeLookup, err)
	}
	return &b, nil
}

func (r *Repository) GetBalance(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserBalance, error) {
	var b model.UserBalance
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeLookup, err)
	}
	return &b, nil
}

// ListBalances pages through balances by primary key.
func (r *Repository) ListBalances(ctx context.Context, tx *gorm.DB, afterID uint64, limit int) ([]model.UserBalance, error) {
	var out []model.UserBalance
	if err := tx.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&out).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeQuery, err)
	}
	return out, nil
}

// UpdateBalance writes amounts and the frozen flag guarded by the row version.
// On success b.Version is advanced.
func (r *Repository) UpdateBalance(ctx context.Context, tx *gorm.DB, b *model.UserBalance) error {
	now := r.now()
	res := tx.WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("id = ? AND version = ?", b.ID, b.Version).
		Updates(map[string]interface{}{
			"current_balance":  b.CurrentBalance,
			"reserved_balance": b.ReservedBalance,
			"frozen":           b.Frozen,
			"version":          b.Version + 1,
			"updated_at":       now,
		})
	if res.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, res.Error)
	}
	if res.RowsAffected == 0 {
		return WrapError(errorOperationStore, errorSubjectBalance, errorCodeConflict, ErrConflict)
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}
