package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user ledger head: current balance plus the optimistic-lock
// version every balance mutation must present. One wallet per user, created
// lazily on the first wallet-requiring action and never deleted; IsActive
// soft-disables instead.
type Wallet struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	UserID      uint64          `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"balance"`
	Currency    string          `gorm:"size:8;not null" json:"currency"`
	ReferenceID string          `gorm:"size:64;not null;uniqueIndex" json:"reference_id"`
	IsActive    bool            `gorm:"not null;default:true" json:"is_active"`
	Version     uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallet" }
