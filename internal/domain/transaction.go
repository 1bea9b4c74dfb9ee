package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal" // Decimal type for money amounts
)

// Transaction kinds
const (
	KindDeposit       = "deposit"
	KindWithdrawal    = "withdrawal"
	KindSplitPayment  = "split_payment"
	KindSplitReceived = "split_received"
)

// Transaction directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metadata is a free-form key/value bag stored as JSON text (fee breakdown,
// bank name, withdrawal speed, funding source).
type Metadata map[string]string

// Value serializes the metadata for storage.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil // Store NULL instead of an empty object
	}
	return json.Marshal(m)
}

// Scan deserializes metadata read back from the store.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported metadata source type %T", src)
}

// Transaction Model. Append-only: rows are inserted atomically with the
// balance change they document and never updated afterwards.
type Transaction struct {
	ID             string          `gorm:"primaryKey;size:36"`                            // UUID primary key
	UserID         uint            `gorm:"not null;index:idx_tx_user_created,priority:1"` // Owning user
	Kind           string          `gorm:"size:20;not null"`                              // deposit, withdrawal, split_payment, split_received
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null"`                   // Always positive; Direction carries the sign
	Direction      string          `gorm:"size:3;not null"`                               // in or out
	Description    string          `gorm:"size:255"`                                      // Human-readable description
	RelatedSplitID *string         `gorm:"size:36;index"`                                 // Split event this payment belongs to
	Metadata       Metadata        `gorm:"type:text"`                                     // Free-form key/value details
	IdempotencyKey *string         `gorm:"size:64;uniqueIndex"`                           // Caller-supplied replay guard
	CreatedAt      time.Time       `gorm:"index:idx_tx_user_created,priority:2;index"`    // Timestamp of creation
}

// Signed returns the amount with the sign implied by Direction.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Amount.Neg()
	}
	return t.Amount
}
