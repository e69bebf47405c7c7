package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Amount always stores the positive magnitude; direction
// is derived from the type, never from the sign of the stored amount.
const (
	TypeTopUp   = "TOPUP"
	TypePayment = "PAYMENT"
	TypeCashOut = "CASHOUT"
	TypeRefund  = "REFUND"
)

// Transaction statuses. PENDING may move to exactly one terminal status;
// terminal entries never transition again.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Transaction is one append-only ledger entry. ReferenceID is globally unique
// across every wallet and doubles as the idempotency key for provider
// callbacks; ProviderID is the provider-side id used as a secondary lookup.
// The auto-increment ID is the insertion sequence that breaks creation-time
// ties in history ordering.
type Transaction struct {
	ID            uint64          `gorm:"primaryKey" json:"id"`
	WalletID      uint64          `gorm:"not null;index" json:"wallet_id"`
	Type          string          `gorm:"size:16;not null" json:"type"`
	Status        string          `gorm:"size:16;not null" json:"status"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_after"`
	ReferenceID   string          `gorm:"size:64;not null;uniqueIndex" json:"reference_id"`
	ProviderID    *string         `gorm:"size:128;index" json:"provider_id,omitempty"`
	Description   string          `gorm:"size:255" json:"description"`
	Metadata      string          `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "transaction" }

// Terminal reports whether the entry can no longer transition.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// EffectiveDelta is the single place the sign convention lives: the balance
// contribution of this entry once COMPLETED. TOPUP and REFUND credit the
// wallet, PAYMENT and CASHOUT debit it.
func (t *Transaction) EffectiveDelta() decimal.Decimal {
	switch t.Type {
	case TypePayment, TypeCashOut:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}
