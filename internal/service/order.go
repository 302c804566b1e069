package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderService owns the order lifecycle. Every payment-bearing transition runs in
// the same DB transaction as the ledger movement it depends on.
type OrderService struct {
	repo   repo.RepositoryInterface
	ledger *Ledger
	guard  *Guard
	cfg    config.BalanceConfig
	log    *zap.SugaredLogger
	now    func() time.Time
	newID  func(time.Time) string
}

// orderIDAttempts bounds retries when a generated id is already taken.
const orderIDAttempts = 5

func NewOrderService(r repo.RepositoryInterface, ledger *Ledger, guard *Guard, cfg config.BalanceConfig, logger *zap.SugaredLogger, opts ...Option) *OrderService {
	s := newSettings(opts)
	return &OrderService{repo: r, ledger: ledger, guard: guard, cfg: cfg, log: logger, now: s.now, newID: s.newOrderID}
}

type CreateOrderInput struct {
	OrderID        string // generated when empty
	UserID         int64
	StarCount      int
	OriginalAmount model.Money
	FinalAmount    model.Money
	PaymentMethod  string
	Notes          string
}

// BatchFailure explains why one order of a batch was not updated.
type BatchFailure struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// CreateOrder persists a new order in CREATED without looking at the balance.
func (o *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if err := o.validateInput(&in); err != nil {
		return nil, err
	}
	generated := in.OrderID == ""
	now := o.now()
	ord := &model.Order{
		OrderID:        in.OrderID,
		UserID:         in.UserID,
		StarCount:      in.StarCount,
		Currency:       in.FinalAmount.Currency(),
		OriginalAmount: in.OriginalAmount.Amount(),
		FinalAmount:    in.FinalAmount.Amount(),
		Status:         model.OrderCreated,
		PaymentMethod:  in.PaymentMethod,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var err error
	for attempt := 1; ; attempt++ {
		if generated {
			ord.OrderID = o.newID(now)
		}
		err = o.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			if err := o.repo.CreateOrder(ctx, tx, ord); err != nil {
				return err
			}
			return o.emitStatus(ctx, tx, ord, "", "order created")
		})
		if !generated || attempt >= orderIDAttempts || !errors.Is(err, repo.ErrConflict) {
			break
		}
		o.log.Warnw("generated order id taken, retrying", "order_id", ord.OrderID, "attempt", attempt)
	}
	if errors.Is(err, repo.ErrConflict) {
		if generated {
			return nil, opFailed("create order", fmt.Errorf("no free order id after %d attempts: %w", orderIDAttempts, err))
		}
		return nil, validationErrorf("order_id", "%s already exists", ord.OrderID)
	}
	if err != nil {
		return nil, opFailed("create order", err)
	}
	o.log.Infow("order created", "order_id", ord.OrderID, "user_id", ord.UserID, "final_amount", ord.FinalAmount)
	return ord, nil
}

// CreateOrderWithBalanceCheck creates the order and moves it to BALANCE_INSUFFICIENT
// when the spendable balance does not cover the final amount. Nothing is reserved.
func (o *OrderService) CreateOrderWithBalanceCheck(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	ord, err := o.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	b, err := o.ledger.GetOrCreateBalance(ctx, ord.UserID)
	if err != nil {
		return nil, err
	}
	if !b.Available().LessThan(ord.FinalAmount) {
		return ord, nil
	}
	return o.mutate(ctx, ord.OrderID, ord.UserID, func(tx *gorm.DB, locked *model.Order) error {
		return o.moveTo(ctx, tx, locked, model.OrderBalanceInsufficient,
			fmt.Sprintf("balance %s below %s", b.Available().StringFixed(2), locked.FinalAmount.StringFixed(2)))
	})
}

// ProcessBalancePayment pays the whole final amount from the user's balance and
// moves the order to PAYMENT_RECEIVED. *InsufficientFundsError is returned unchanged.
func (o *OrderService) ProcessBalancePayment(ctx context.Context, orderID string, userID int64) (*model.Order, error) {
	ord, err := o.owned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := o.checkPayable(ord); err != nil {
		return nil, err
	}
	final, err := o.money(ord, ord.FinalAmount)
	if err != nil {
		return nil, err
	}
	var out *model.Order
	err = o.guard.Guarded(userID, func() error {
		if err := o.guard.ValidatePurchase(ctx, userID, final); err != nil {
			return err
		}
		out, err = o.mutate(ctx, orderID, userID, func(tx *gorm.DB, locked *model.Order) error {
			if err := o.checkPayable(locked); err != nil {
				return err
			}
			if err := o.routeToAwaiting(ctx, tx, locked); err != nil {
				return err
			}
			t, err := o.ledger.processPaymentTx(ctx, tx, userID, orderID, final)
			if err != nil {
				return err
			}
			locked.BalanceUsedAmount = final.Amount()
			locked.ExternalPaymentAmount = decimal.Zero
			locked.BalanceTransactionID = &t.TransactionID
			locked.PaymentMethod = model.PaymentMethodBalance
			return o.moveTo(ctx, tx, locked, model.OrderPaymentReceived, "paid from balance")
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessMixedPayment records a split payment. balanceAmount+externalAmount must equal
// the final amount exactly; only the balance part moves money here.
func (o *OrderService) ProcessMixedPayment(ctx context.Context, orderID string, userID int64, balanceAmount, externalAmount model.Money) (*model.Order, error) {
	ord, err := o.owned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := o.checkPayable(ord); err != nil {
		return nil, err
	}
	if err := o.checkSplit(ord, balanceAmount, externalAmount); err != nil {
		return nil, err
	}
	pay := func() error {
		var err error
		ord, err = o.mutate(ctx, orderID, userID, func(tx *gorm.DB, locked *model.Order) error {
			if err := o.checkPayable(locked); err != nil {
				return err
			}
			if locked.Status == model.OrderCreated {
				if err := o.moveTo(ctx, tx, locked, model.OrderAwaitingPayment, "mixed payment started"); err != nil {
					return err
				}
			}
			if !ValidateStatusTransition(locked.Status, model.OrderPartialBalancePayment) {
				return &TransitionError{OrderID: locked.OrderID, From: locked.Status, To: model.OrderPartialBalancePayment}
			}
			if balanceAmount.IsPositive() {
				t, err := o.ledger.processPaymentTx(ctx, tx, userID, orderID, balanceAmount)
				if err != nil {
					return err
				}
				locked.BalanceTransactionID = &t.TransactionID
			}
			locked.BalanceUsedAmount = balanceAmount.Amount()
			locked.ExternalPaymentAmount = externalAmount.Amount()
			locked.PaymentMethod = model.PaymentMethodMixed
			return o.moveTo(ctx, tx, locked, model.OrderPartialBalancePayment, "mixed payment recorded")
		})
		return err
	}
	if balanceAmount.IsPositive() {
		err = o.guard.Guarded(userID, func() error {
			if err := o.guard.ValidatePurchase(ctx, userID, balanceAmount); err != nil {
				return err
			}
			return pay()
		})
	} else {
		err = pay()
	}
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// ReserveBalanceForOrder earmarks part of the balance for an order whose payment
// is still pending elsewhere.
func (o *OrderService) ReserveBalanceForOrder(ctx context.Context, orderID string, userID int64, amount model.Money) (*model.Order, error) {
	ord, err := o.owned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := o.checkPayable(ord); err != nil {
		return nil, err
	}
	if amount.Currency() != ord.Currency || amount.Amount().GreaterThan(ord.FinalAmount) {
		return nil, validationErrorf("amount", "must be in %s and not exceed %s", ord.Currency, ord.FinalAmount.StringFixed(2))
	}
	if err := o.guard.ValidateAmountFormat("amount", amount); err != nil {
		return nil, err
	}
	var out *model.Order
	err = o.guard.Guarded(userID, func() error {
		out, err = o.mutate(ctx, orderID, userID, func(tx *gorm.DB, locked *model.Order) error {
			if err := o.checkPayable(locked); err != nil {
				return err
			}
			if _, err := o.ledger.reserveTx(ctx, tx, userID, orderID, amount, "reserved for order"); err != nil {
				return err
			}
			return o.routeToAwaiting(ctx, tx, locked)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmExternalPayment is the gateway callback. An AWAITING_PAYMENT order is
// marked fully paid externally; a PARTIAL_BALANCE_PAYMENT order keeps its split.
func (o *OrderService) ConfirmExternalPayment(ctx context.Context, orderID, method string) (*model.Order, error) {
	return o.mutate(ctx, orderID, 0, func(tx *gorm.DB, locked *model.Order) error {
		if locked.Status == model.OrderCreated || locked.Status == model.OrderBalanceInsufficient {
			if err := o.moveTo(ctx, tx, locked, model.OrderAwaitingPayment, "external payment arrived"); err != nil {
				return err
			}
		}
		if locked.Status == model.OrderPaymentReceived {
			return nil
		}
		if locked.Status != model.OrderAwaitingPayment && locked.Status != model.OrderPartialBalancePayment {
			return &TransitionError{OrderID: locked.OrderID, From: locked.Status, To: model.OrderPaymentReceived}
		}
		if method != "" && locked.Status == model.OrderAwaitingPayment {
			locked.PaymentMethod = method
		}
		return o.applyStatus(ctx, tx, locked, model.OrderPaymentReceived, "external payment confirmed")
	})
}

// CancelOrderWithBalanceRefund refunds whatever the order took from the balance,
// releases any reservation and moves it to CANCELLED. Cancelling twice is a no-op.
func (o *OrderService) CancelOrderWithBalanceRefund(ctx context.Context, orderID string, userID int64, reason string) (*model.Order, error) {
	ord, err := o.owned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if ord.Status == model.OrderCancelled {
		return ord, nil
	}
	if !ValidateStatusTransition(ord.Status, model.OrderCancelled) {
		return nil, &TransitionError{OrderID: ord.OrderID, From: ord.Status, To: model.OrderCancelled}
	}
	var out *model.Order
	err = o.guard.Guarded(userID, func() error {
		out, err = o.mutate(ctx, orderID, userID, func(tx *gorm.DB, locked *model.Order) error {
			return o.applyStatus(ctx, tx, locked, model.OrderCancelled, reason)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkProcessing, CompleteOrder, FailOrder and RefundOrder are the fulfilment-side
// transitions. Failing or refunding returns the balance portion to the user.
func (o *OrderService) MarkProcessing(ctx context.Context, orderID string) (*model.Order, error) {
	return o.systemTransition(ctx, orderID, model.OrderProcessing, "fulfilment started")
}

func (o *OrderService) CompleteOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return o.systemTransition(ctx, orderID, model.OrderCompleted, "stars delivered")
}

func (o *OrderService) FailOrder(ctx context.Context, orderID, reason string) (*model.Order, error) {
	return o.systemTransition(ctx, orderID, model.OrderFailed, reason)
}

func (o *OrderService) RefundOrder(ctx context.Context, orderID, reason string) (*model.Order, error) {
	return o.systemTransition(ctx, orderID, model.OrderRefunded, reason)
}

// UpdateStatus is the admin entry point for a single order.
func (o *OrderService) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, updatedBy string) (*model.Order, error) {
	if err := o.guard.ValidateAdminOperation(updatedBy, AdminOrderStatusUpdate); err != nil {
		return nil, err
	}
	return o.systemTransition(ctx, orderID, status, "updated by "+updatedBy)
}

// BatchUpdateStatus moves each order independently, each in its own transaction.
// A failure on one order leaves it untouched and does not stop the others.
func (o *OrderService) BatchUpdateStatus(ctx context.Context, orderIDs []string, status model.OrderStatus, updatedBy string) (*BatchResult, error) {
	if len(orderIDs) > o.cfg.MaxBatchSize {
		return nil, validationErrorf("order_ids", "at most %d orders per batch, got %d", o.cfg.MaxBatchSize, len(orderIDs))
	}
	if err := o.guard.ValidateAdminOperation(updatedBy, AdminOrderStatusUpdate); err != nil {
		return nil, err
	}
	res := &BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}
	for _, id := range orderIDs {
		if _, err := o.systemTransition(ctx, id, status, "batch update by "+updatedBy); err != nil {
			res.Failed = append(res.Failed, BatchFailure{OrderID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	o.log.Infow("batch status update", "target", status, "updated_by", updatedBy,
		"succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// GetOrder reads through the short-lived order cache.
func (o *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	cached, err := o.repo.GetCachedOrder(ctx, orderID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		o.log.Warnw("order cache read failed", "order_id", orderID, "error", err)
	}
	ord, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := o.repo.CacheOrder(ctx, *ord); err != nil {
		o.log.Warnw("order cache write failed", "order_id", orderID, "error", err)
	}
	return ord, nil
}

// GetUserOrder is GetOrder with an ownership check.
func (o *OrderService) GetUserOrder(ctx context.Context, orderID string, userID int64) (*model.Order, error) {
	ord, err := o.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.UserID != userID {
		return nil, ErrOrderOwnership
	}
	return ord, nil
}

func (o *OrderService) ListUserOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	orders, err := o.repo.FindUserOrders(ctx, o.repo.DB(ctx), userID, limit)
	return orders, opFailed("list orders", err)
}

// FindStuckOrders lists orders that sat in a non-final status for longer than olderThan.
func (o *OrderService) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error) {
	orders, err := o.repo.FindOrdersInStatus(ctx, o.repo.DB(ctx), stuckStatuses, o.now().Add(-olderThan), limit)
	return orders, opFailed("find stuck orders", err)
}

func (o *OrderService) systemTransition(ctx context.Context, orderID string, to model.OrderStatus, reason string) (*model.Order, error) {
	if _, ok := orderTransitions[to]; !ok {
		return nil, validationErrorf("status", "unknown order status %q", to)
	}
	return o.mutate(ctx, orderID, 0, func(tx *gorm.DB, locked *model.Order) error {
		return o.applyStatus(ctx, tx, locked, to, reason)
	})
}

// applyStatus performs one table-checked transition plus the money movement the
// target implies.
func (o *OrderService) applyStatus(ctx context.Context, tx *gorm.DB, ord *model.Order, to model.OrderStatus, reason string) error {
	if ord.Status == to {
		return nil
	}
	if !ValidateStatusTransition(ord.Status, to) {
		return &TransitionError{OrderID: ord.OrderID, From: ord.Status, To: to}
	}
	switch to {
	case model.OrderCancelled, model.OrderFailed, model.OrderRefunded:
		if err := o.settleBalance(ctx, tx, ord, reason); err != nil {
			return err
		}
	case model.OrderPartialBalancePayment:
		// the split is only known to ProcessMixedPayment
		return validationErrorf("status", "%s is entered only by recording a mixed payment", to)
	case model.OrderPaymentReceived, model.OrderProcessing, model.OrderCompleted:
		if ord.Status == model.OrderPartialBalancePayment &&
			!ord.BalanceUsedAmount.Add(ord.ExternalPaymentAmount).Equal(ord.FinalAmount) {
			return validationErrorf("order", "%s split %s + %s does not cover final amount %s", ord.OrderID,
				ord.BalanceUsedAmount.String(), ord.ExternalPaymentAmount.String(), ord.FinalAmount.String())
		}
		if to == model.OrderPaymentReceived && ord.Status == model.OrderAwaitingPayment {
			ord.BalanceUsedAmount = decimal.Zero
			ord.ExternalPaymentAmount = ord.FinalAmount
			if ord.PaymentMethod == "" || ord.PaymentMethod == model.PaymentMethodBalance {
				ord.PaymentMethod = model.PaymentMethodExternal
			}
		}
		// a paid order holds no reservation; no-op when nothing is outstanding
		if _, err := o.ledger.releaseTx(ctx, tx, ord.UserID, ord.OrderID); err != nil {
			return err
		}
	case model.OrderCreated, model.OrderAwaitingPayment:
		if ord.Status == model.OrderCancelled || ord.Status == model.OrderFailed {
			ord.BalanceUsedAmount = decimal.Zero
			ord.ExternalPaymentAmount = decimal.Zero
			ord.BalanceTransactionID = nil
		}
	}
	return o.moveTo(ctx, tx, ord, to, reason)
}

// settleBalance refunds what the order still holds from the balance, according to
// the log, and releases any reservation.
func (o *OrderService) settleBalance(ctx context.Context, tx *gorm.DB, ord *model.Order, reason string) error {
	rows, err := o.repo.FindTransactions(ctx, tx, model.TransactionFilter{
		UserID:   ord.UserID,
		OrderID:  ord.OrderID,
		Types:    []model.TransactionType{model.TransactionPurchase, model.TransactionRefund},
		Statuses: []model.TransactionStatus{model.TransactionCompleted},
	})
	if err != nil {
		return err
	}
	owed := decimal.Zero
	for _, t := range rows {
		owed = owed.Sub(t.SignedAmount())
	}
	if owed.IsPositive() {
		amount, err := o.money(ord, owed)
		if err != nil {
			return err
		}
		if reason == "" {
			reason = "order " + ord.OrderID + " refund"
		}
		if _, err := o.ledger.refundTx(ctx, tx, ord.UserID, amount, ord.OrderID, reason); err != nil {
			return err
		}
	}
	_, err = o.ledger.releaseTx(ctx, tx, ord.UserID, ord.OrderID)
	return err
}

// mutate locks the order owner's balance scope and the order row, runs fn and saves.
// callerID 0 skips the ownership check.
func (o *OrderService) mutate(ctx context.Context, orderID string, callerID int64, fn func(tx *gorm.DB, ord *model.Order) error) (*model.Order, error) {
	current, err := o.owned(ctx, orderID, callerID)
	if err != nil {
		return nil, err
	}
	var out *model.Order
	err = o.ledger.withUser(ctx, current.UserID, func(tx *gorm.DB) error {
		ord, err := o.repo.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, ord); err != nil {
			return err
		}
		if err := o.repo.SaveOrder(ctx, tx, ord); err != nil {
			return err
		}
		out = ord
		return nil
	})
	if cacheErr := o.repo.InvalidateOrder(ctx, orderID); cacheErr != nil {
		o.log.Warnw("order cache invalidation failed", "order_id", orderID, "error", cacheErr)
	}
	if err != nil {
		return nil, opFailed("update order", err)
	}
	return out, nil
}

// owned loads the order and checks it belongs to userID before anything else is looked at.
func (o *OrderService) owned(ctx context.Context, orderID string, userID int64) (*model.Order, error) {
	if err := o.guard.ValidateOrderID(orderID); err != nil {
		return nil, err
	}
	ord, err := o.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && ord.UserID != userID {
		o.log.Warnw("order ownership mismatch", "order_id", orderID, "caller", userID)
		return nil, ErrOrderOwnership
	}
	return ord, nil
}

func (o *OrderService) load(ctx context.Context, orderID string) (*model.Order, error) {
	ord, err := o.repo.GetOrder(ctx, o.repo.DB(ctx), orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, opFailed("load order", err)
	}
	return ord, nil
}

func (o *OrderService) routeToAwaiting(ctx context.Context, tx *gorm.DB, ord *model.Order) error {
	if ord.Status == model.OrderAwaitingPayment {
		return nil
	}
	return o.applyStatus(ctx, tx, ord, model.OrderAwaitingPayment, "awaiting payment")
}

func (o *OrderService) moveTo(ctx context.Context, tx *gorm.DB, ord *model.Order, to model.OrderStatus, reason string) error {
	if !ValidateStatusTransition(ord.Status, to) {
		return &TransitionError{OrderID: ord.OrderID, From: ord.Status, To: to}
	}
	from := ord.Status
	ord.Status = to
	return o.emitStatus(ctx, tx, ord, from, reason)
}

func (o *OrderService) emitStatus(ctx context.Context, tx *gorm.DB, ord *model.Order, from model.OrderStatus, reason string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id":                ord.OrderID,
		"user_id":                 ord.UserID,
		"from":                    from,
		"to":                      ord.Status,
		"balance_used_amount":     ord.BalanceUsedAmount,
		"external_payment_amount": ord.ExternalPaymentAmount,
		"reason":                  reason,
	})
	if err != nil {
		return err
	}
	o.log.Infow("order status changed", "order_id", ord.OrderID, "from", from, "to", ord.Status, "reason", reason)
	return o.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   model.AggregateOrder,
		AggregateID: ord.OrderID,
		EventType:   model.EventOrderStatus,
		Payload:     string(payload),
		CreatedAt:   o.now(),
	})
}

func (o *OrderService) checkPayable(ord *model.Order) error {
	if ord.Status.IsPaid() {
		return validationErrorf("order", "%s is already paid (status %s)", ord.OrderID, ord.Status)
	}
	return nil
}

func (o *OrderService) checkSplit(ord *model.Order, balanceAmount, externalAmount model.Money) error {
	for _, part := range []struct {
		field string
		m     model.Money
	}{{"balance_amount", balanceAmount}, {"external_amount", externalAmount}} {
		if part.m.Currency() != ord.Currency {
			return validationErrorf(part.field, "currency %s does not match order currency %s", part.m.Currency(), ord.Currency)
		}
		if part.m.IsNegative() {
			return validationErrorf(part.field, "must not be negative")
		}
		if part.m.DecimalPlaces() > maxAmountScale {
			return validationErrorf(part.field, "at most %d decimal places allowed", maxAmountScale)
		}
	}
	sum := balanceAmount.Amount().Add(externalAmount.Amount())
	if !sum.Equal(ord.FinalAmount) {
		return validationErrorf("amount", "balance %s + external %s must equal final amount %s",
			balanceAmount.Amount().String(), externalAmount.Amount().String(), ord.FinalAmount.String())
	}
	return nil
}

func (o *OrderService) validateInput(in *CreateOrderInput) error {
	if in.UserID == 0 {
		return validationErrorf("user_id", "is required")
	}
	if in.StarCount <= 0 {
		return validationErrorf("star_count", "must be positive")
	}
	if err := o.guard.ValidateCurrency(in.FinalAmount.Currency()); err != nil {
		return err
	}
	if in.OriginalAmount.Currency() != in.FinalAmount.Currency() {
		return validationErrorf("original_amount", "currency must match final amount")
	}
	if err := o.guard.ValidateAmountFormat("original_amount", in.OriginalAmount); err != nil {
		return err
	}
	if err := o.guard.ValidateAmountFormat("final_amount", in.FinalAmount); err != nil {
		return err
	}
	if in.FinalAmount.Amount().GreaterThan(in.OriginalAmount.Amount()) {
		return validationErrorf("final_amount", "must not exceed original amount")
	}
	if in.OrderID == "" {
		return nil
	}
	return o.guard.ValidateOrderID(in.OrderID)
}

func (o *OrderService) money(ord *model.Order, amount decimal.Decimal) (model.Money, error) {
	m, err := model.NewMoney(amount, ord.Currency)
	if err != nil {
		return model.Money{}, validationErrorf("currency", "%v", err)
	}
	return m, nil
}
