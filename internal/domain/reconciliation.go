package domain

import (
	"time"

	"github.com/shopspring/decimal" // Decimal type for money amounts
)

// ReconciliationCase records a divergence between an external bank charge and
// the internal ledger (money left the user's bank but the matching ledger
// update failed). Cases are written so they can be found and resolved
// out-of-band; nothing resolves them automatically.
type ReconciliationCase struct {
	ID             string          `gorm:"primaryKey;size:36"`          // UUID primary key
	UserID         uint            `gorm:"not null;index"`              // User whose bank was charged
	ChargeID       string          `gorm:"size:64"`                     // Gateway charge that settled
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null"` // Amount in limbo
	RelatedSplitID *string         `gorm:"size:36"`                     // Split event being settled, if any
	Reason         string          `gorm:"size:255"`                    // What went wrong after the charge
	Resolved       bool            `gorm:"not null;default:false;index"`
	CreatedAt      time.Time
}
