package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/neKamita/telegram-star-manager/internal/model"
)

func balanceKey(userID int64) string  { return fmt.Sprintf("balance:%d", userID) }
func orderKey(orderID string) string { return fmt.Sprintf("order:%s", orderID) }

// CacheBalance stores a balance snapshot. A nil redis client makes every cache call a miss.
func (r *Repository) CacheBalance(ctx context.Context, userID int64, b model.UserBalance) error {
	return r.setJSON(ctx, errorSubjectBalance, balanceKey(userID), b, r.balanceTTL)
}

// GetCachedBalance returns redis.Nil on a miss.
func (r *Repository) GetCachedBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	var b model.UserBalance
	if err := r.getJSON(ctx, errorSubjectBalance, balanceKey(userID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) InvalidateBalance(ctx context.Context, userID int64) error {
	return r.del(ctx, errorSubjectBalance, balanceKey(userID))
}

func (r *Repository) CacheOrder(ctx context.Context, o model.Order) error {
	return r.setJSON(ctx, errorSubjectOrder, orderKey(o.OrderID), o, r.orderTTL)
}

func (r *Repository) GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	if err := r.getJSON(ctx, errorSubjectOrder, orderKey(orderID), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) InvalidateOrder(ctx context.Context, orderID string) error {
	return r.del(ctx, errorSubjectOrder, orderKey(orderID))
}

func (r *Repository) setJSON(ctx context.Context, subject, key string, v interface{}, ttl time.Duration) error {
	if r.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return WrapError(errorOperationCache, subject, errorCodeEncode, err)
	}
	return WrapError(errorOperationCache, subject, errorCodeUpdate, r.rdb.Set(ctx, key, payload, ttl).Err())
}

func (r *Repository) getJSON(ctx context.Context, subject, key string, v interface{}) error {
	if r.rdb == nil {
		return redis.Nil
	}
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return redis.Nil
		}
		return WrapError(errorOperationCache, subject, errorCodeLookup, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return WrapError(errorOperationCache, subject, errorCodeEncode, err)
	}
	return nil
}

func (r *Repository) del(ctx context.Context, subject, key string) error {
	if r.rdb == nil {
		return nil
	}
	return WrapError(errorOperationCache, subject, errorCodeUpdate, r.rdb.Del(ctx, key).Err())
}
