package domain

import (
	"time"

	"github.com/shopspring/decimal" // Decimal type for money amounts
)

// Wallet Model. One per user, created at signup with a zero balance.
// Balance is only ever changed by the ledger store; the decimal column keeps
// minor-unit precision that float64 cannot.
type Wallet struct {
	ID                uint            `gorm:"primaryKey"`                            // Primary key
	UserID            uint            `gorm:"uniqueIndex"`                           // Foreign key to User
	Balance           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Spendable balance, never negative
	BankLinked        bool            `gorm:"not null;default:false"`                // Whether an external bank is connected
	BankName          string          `gorm:"size:64"`                               // Display name of the linked bank
	BankConsentRef    *string         `gorm:"size:64"`                               // Opaque consent identifier from the bank gateway
	BankConsentExpiry *time.Time      // When the consent stops being chargeable
	CreatedAt         time.Time       // Timestamp of creation
	UpdatedAt         time.Time       // Timestamp of last balance change
}

// HasValidConsent reports whether the wallet can fund a bank charge at the
// given instant.
func (w *Wallet) HasValidConsent(now time.Time) bool {
	if !w.BankLinked || w.BankConsentRef == nil {
		return false
	}
	return w.BankConsentExpiry == nil || w.BankConsentExpiry.After(now)
}
