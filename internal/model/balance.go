package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance is the single balance row of a user. CurrentBalance counts all funds,
// ReservedBalance the part earmarked for pending orders.
type UserBalance struct {
	ID              uint64          `gorm:"primaryKey;column:id"`
	UserID          int64           `gorm:"uniqueIndex;not null"`
	Currency        string          `gorm:"size:3;not null"`
	CurrentBalance  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	ReservedBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Frozen          bool            `gorm:"not null;default:false"`
	Version         uint64          `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (UserBalance) TableName() string { return "user_balance" }

// Available is the spendable part of the balance.
func (b UserBalance) Available() decimal.Decimal {
	return b.CurrentBalance.Sub(b.ReservedBalance)
}
