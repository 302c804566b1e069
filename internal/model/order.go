package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated               OrderStatus = "CREATED"
	OrderAwaitingPayment       OrderStatus = "AWAITING_PAYMENT"
	OrderBalanceInsufficient   OrderStatus = "BALANCE_INSUFFICIENT"
	OrderPartialBalancePayment OrderStatus = "PARTIAL_BALANCE_PAYMENT"
	OrderPaymentReceived       OrderStatus = "PAYMENT_RECEIVED"
	OrderProcessing            OrderStatus = "PROCESSING"
	OrderCompleted             OrderStatus = "COMPLETED"
	OrderFailed                OrderStatus = "FAILED"
	OrderCancelled             OrderStatus = "CANCELLED"
	OrderRefunded              OrderStatus = "REFUNDED"
)

// AllOrderStatuses lists every status in declaration order.
var AllOrderStatuses = []OrderStatus{
	OrderCreated, OrderAwaitingPayment, OrderBalanceInsufficient, OrderPartialBalancePayment,
	OrderPaymentReceived, OrderProcessing, OrderCompleted, OrderFailed, OrderCancelled, OrderRefunded,
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, s := range AllOrderStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// IsPaid reports whether money for the order has already been taken.
func (s OrderStatus) IsPaid() bool {
	switch s {
	case OrderPartialBalancePayment, OrderPaymentReceived, OrderProcessing, OrderCompleted, OrderRefunded:
		return true
	}
	return false
}

const (
	PaymentMethodBalance  = "BALANCE"
	PaymentMethodMixed    = "MIXED"
	PaymentMethodExternal = "EXTERNAL"
	PaymentMethodTON      = "TON"
	PaymentMethodYooKassa = "YOOKASSA"
	PaymentMethodQiwi     = "QIWI"
	PaymentMethodSberPay  = "SBERPAY"
)

type Order struct {
	OrderID               string          `gorm:"primaryKey;size:8;column:order_id"`
	UserID                int64           `gorm:"index;not null"`
	StarCount             int             `gorm:"not null"`
	Currency              string          `gorm:"size:3;not null"`
	OriginalAmount        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	FinalAmount           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status                OrderStatus     `gorm:"size:32;index;not null"`
	BalanceUsedAmount     decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	ExternalPaymentAmount decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	BalanceTransactionID  *string         `gorm:"size:40"`
	PaymentMethod         string          `gorm:"size:16"`
	Notes                 string          `gorm:"size:512"`
	CreatedAt             time.Time
	UpdatedAt             time.Time `gorm:"index"`
}

func (Order) TableName() string { return "orders" }
