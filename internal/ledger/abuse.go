package ledger

import (
	"context"
	"fmt"
	"time"

	"splitpay/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	depositCooldown = 24 * time.Hour     // How long a deposit caps withdrawals
	earnedWindow    = 7 * 24 * time.Hour // Trailing window for split income
	frequencyWindow = 24 * time.Hour     // Trailing window for the withdrawal count
)

// ActivityLog is the slice of the transaction-log query layer the guard
// needs. *GormStore satisfies it.
type ActivityLog interface {
	LastDepositAt(ctx context.Context, userID uint) (*time.Time, error)
	SumByKindSince(ctx context.Context, userID uint, kind string, since time.Time) (decimal.Decimal, error)
	CountByKindSince(ctx context.Context, userID uint, kind string, since time.Time) (int64, error)
}

// Guard evaluates a user's recent transaction-log activity against the
// fund-cycling and frequency rules before a withdrawal is allowed. The checks
// are advisory pre-checks only; the store's balance invariant still governs
// the actual debit.
type Guard struct {
	log                  ActivityLog
	maxWithdrawalsPerDay int64
	now                  func() time.Time
}

// NewGuard returns a Guard with the given withdrawal frequency cap.
func NewGuard(log ActivityLog, maxWithdrawalsPerDay int64) *Guard {
	return &Guard{log: log, maxWithdrawalsPerDay: maxWithdrawalsPerDay, now: time.Now}
}

// Check returns an AbuseBlockedError when either rule refuses the requested
// withdrawal amount, nil otherwise.
func (g *Guard) Check(ctx context.Context, userID uint, amount decimal.Decimal) error {
	now := g.now()

	// Frequency rule: a fixed cap on withdrawals per trailing 24 hours,
	// independent of amount.
	count, err := g.log.CountByKindSince(ctx, userID, domain.KindWithdrawal, now.Add(-frequencyWindow))
	if err != nil {
		return err
	}
	if count >= g.maxWithdrawalsPerDay {
		return &AbuseBlockedError{
			Reason: fmt.Sprintf("withdrawal limit reached: at most %d withdrawals per 24 hours", g.maxWithdrawalsPerDay),
		}
	}

	// Cycling rule: while a deposit is inside its cooldown, the user may only
	// withdraw what they earned from splits in the trailing 7 days.
	lastDeposit, err := g.log.LastDepositAt(ctx, userID)
	if err != nil {
		return err
	}
	if lastDeposit == nil || now.Sub(*lastDeposit) >= depositCooldown {
		return nil
	}
	earned, err := g.log.SumByKindSince(ctx, userID, domain.KindSplitReceived, now.Add(-earnedWindow))
	if err != nil {
		return err
	}
	if amount.LessThanOrEqual(earned) {
		return nil
	}
	remaining := depositCooldown - now.Sub(*lastDeposit)
	if remaining < 0 {
		remaining = 0
	}
	return &AbuseBlockedError{
		Reason: fmt.Sprintf(
			"recent deposit detected: you can withdraw up to %s earned from splits, or wait %s for the cooldown to end",
			earned.StringFixed(2), remaining.Round(time.Minute)),
		Cooldown:        remaining,
		MaxWithdrawable: earned,
	}
}
