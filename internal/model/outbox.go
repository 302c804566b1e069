package model

import "time"

const (
	AggregateBalance = "Balance"
	AggregateOrder   = "Order"
)

const (
	EventBalanceDeposited = "BalanceDeposited"
	EventBalanceWithdrawn = "BalanceWithdrawn"
	EventBalancePurchase  = "BalancePurchase"
	EventBalanceRefunded  = "BalanceRefunded"
	EventBalanceReserved  = "BalanceReserved"
	EventBalanceReleased  = "BalanceReleased"
	EventBalanceFrozen    = "BalanceFrozen"
	EventBalanceUnfrozen  = "BalanceUnfrozen"
	EventOrderStatus      = "OrderStatusChanged"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:40;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"index"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
