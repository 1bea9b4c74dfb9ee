package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal speed tiers.
const (
	SpeedFast   = "fast"   // Arrives within hours, charged a percentage fee
	SpeedNormal = "normal" // Free, arrives in 5 business days
)

const (
	fastArrival        = 2 * time.Hour
	normalBusinessDays = 5
)

// Quote is the fee breakdown for one withdrawal. The fee is taken out of the
// debited amount: a 100.00 fast withdrawal debits 100.00 and pays out Net.
type Quote struct {
	Speed            string
	Fee              decimal.Decimal
	Net              decimal.Decimal
	EstimatedArrival time.Time
}

// QuoteWithdrawal computes the fee, net payout, and estimated arrival for a
// withdrawal of the given amount and speed. fastRate is the deployment's fast
// fee rate (e.g. 0.02 for 2%).
func QuoteWithdrawal(amount decimal.Decimal, speed string, fastRate decimal.Decimal, now time.Time) (Quote, error) {
	if !amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}
	switch speed {
	case SpeedFast:
		fee := amount.Mul(fastRate).Round(2)
		return Quote{
			Speed:            SpeedFast,
			Fee:              fee,
			Net:              amount.Sub(fee),
			EstimatedArrival: now.Add(fastArrival),
		}, nil
	case SpeedNormal:
		return Quote{
			Speed:            SpeedNormal,
			Fee:              decimal.Zero,
			Net:              amount,
			EstimatedArrival: addBusinessDays(now, normalBusinessDays),
		}, nil
	default:
		return Quote{}, fmt.Errorf("%w: unknown withdrawal speed %q", ErrInvalidAmount, speed)
	}
}

// addBusinessDays advances the given time by n weekdays, skipping Saturdays
// and Sundays.
func addBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}
