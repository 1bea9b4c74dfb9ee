// Package bank defines the contract the ledger core requires from the
// external bank-payment gateway, plus the HTTP client that talks to it.
package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a charge as reported by the gateway.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the gateway will not change this status anymore.
func (s Status) Terminal() bool { return s == StatusSettled || s == StatusFailed }

// Gateway executes real-money bank charges against previously granted
// consents. The payment orchestrator invokes it only for the shortfall a
// wallet balance cannot cover, and always before any ledger mutation.
type Gateway interface {
	// CreateCharge initiates a charge against a consent and returns the
	// gateway's charge ID. Fails if the consent is invalid or expired.
	CreateCharge(ctx context.Context, consentRef string, amount decimal.Decimal, reference string) (string, error)
	// ChargeStatus blocks up to maxWait for a terminal status. When maxWait
	// elapses first, the last observed status (usually pending) is returned;
	// the caller must treat anything but settled as failed.
	ChargeStatus(ctx context.Context, chargeID string, maxWait time.Duration) (Status, error)
	// RevokeConsent invalidates a consent when a user disconnects their
	// bank. Not part of the payment path.
	RevokeConsent(ctx context.Context, consentRef string) error
}
