package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced by the ledger core. Handlers match on these with
// errors.Is and translate them into specific user-facing responses.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBankNotLinked       = errors.New("no linked bank account")
	ErrConsentExpired      = errors.New("bank consent has expired")
	ErrConcurrencyConflict = errors.New("balance changed concurrently")
	ErrAbuseBlocked        = errors.New("withdrawal blocked")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrPersistence         = errors.New("ledger store unavailable")
)

// InsufficientFundsError carries the actual withdrawable maximum so the
// caller can render a specific message instead of a generic failure.
type InsufficientFundsError struct {
	Available decimal.Decimal // Balance at the time the debit was refused
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available balance is %s", e.Available.StringFixed(2))
}

// Unwrap lets errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// AbuseBlockedError is returned by the abuse guard with the reason and, for
// the cycling rule, the remaining cooldown and the amount still withdrawable.
type AbuseBlockedError struct {
	Reason          string          // Human-readable explanation
	Cooldown        time.Duration   // Remaining cooldown, zero when not applicable
	MaxWithdrawable decimal.Decimal // Cap under the cycling rule, zero when not applicable
}

func (e *AbuseBlockedError) Error() string { return e.Reason }

// Unwrap lets errors.Is(err, ErrAbuseBlocked) match.
func (e *AbuseBlockedError) Unwrap() error { return ErrAbuseBlocked }

// CooldownHours reports the remaining cooldown rounded up to whole hours.
func (e *AbuseBlockedError) CooldownHours() int {
	if e.Cooldown <= 0 {
		return 0
	}
	return int((e.Cooldown + time.Hour - 1) / time.Hour)
}

// wrapPersistence tags unexpected store failures so callers can distinguish
// them from domain refusals.
func wrapPersistence(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
