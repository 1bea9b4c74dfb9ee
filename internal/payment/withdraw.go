package payment

import (
	"context"
	"time"

	"splitpay/internal/domain"
	"splitpay/internal/ledger"
	"splitpay/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AbuseGuard is satisfied by *ledger.Guard.
type AbuseGuard interface {
	Check(ctx context.Context, userID uint, amount decimal.Decimal) error
}

// WithdrawalProcessor moves funds from a wallet toward the user's bank. The
// fee is included in the debited amount, never added on top: a 100.00 fast
// withdrawal debits exactly 100.00 and the bank receives the net. The payout
// itself runs asynchronously elsewhere; this component only guarantees the
// ledger-side debit and record are correct and atomic.
type WithdrawalProcessor struct {
	store    Ledger
	guard    AbuseGuard
	notifier notify.Publisher
	fastRate decimal.Decimal
	now      func() time.Time
}

// NewWithdrawalProcessor wires a withdrawal pipeline with the deployment's
// fast fee rate.
func NewWithdrawalProcessor(store Ledger, guard AbuseGuard, notifier notify.Publisher, fastRate decimal.Decimal) *WithdrawalProcessor {
	return &WithdrawalProcessor{
		store:    store,
		guard:    guard,
		notifier: notifier,
		fastRate: fastRate,
		now:      time.Now,
	}
}

// WithdrawParams describes one withdrawal request.
type WithdrawParams struct {
	UserID         uint
	Amount         decimal.Decimal
	Speed          string // ledger.SpeedFast or ledger.SpeedNormal
	IdempotencyKey *string
}

// Receipt reports the committed withdrawal and its fee breakdown.
type Receipt struct {
	Transaction *domain.Transaction
	Quote       ledger.Quote
}

// Withdraw runs the precondition chain in order — amount, bank link, abuse
// guard, balance — then debits the wallet and records the withdrawal with its
// fee breakdown and estimated arrival.
func (w *WithdrawalProcessor) Withdraw(ctx context.Context, p WithdrawParams) (*Receipt, error) {
	if !p.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	quote, err := ledger.QuoteWithdrawal(p.Amount, p.Speed, w.fastRate, w.now())
	if err != nil {
		return nil, err
	}
	wallet, err := w.store.Wallet(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !wallet.BankLinked {
		return nil, ledger.ErrBankNotLinked
	}
	if err := w.guard.Check(ctx, p.UserID, p.Amount); err != nil {
		return nil, err
	}

	// The debit enforces the balance check atomically; its failure carries
	// the actual withdrawable maximum.
	txn, err := w.store.Debit(ctx, ledger.MutationParams{
		UserID:      p.UserID,
		Amount:      p.Amount,
		Kind:        domain.KindWithdrawal,
		Description: "Withdrawal to " + wallet.BankName,
		Metadata: domain.Metadata{
			"withdrawal_type":   quote.Speed,
			"fee_amount":        quote.Fee.StringFixed(2),
			"net_amount":        quote.Net.StringFixed(2),
			"estimated_arrival": quote.EstimatedArrival.Format(time.RFC3339),
			"bank_name":         wallet.BankName,
		},
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    p.UserID,
		"amount":     p.Amount.StringFixed(2),
		"speed":      quote.Speed,
		"fee_amount": quote.Fee.StringFixed(2),
		"net_amount": quote.Net.StringFixed(2),
	}).Info("Withdrawal committed")

	w.notifier.Publish(ctx, notify.Event{
		UserID: p.UserID, Kind: domain.KindWithdrawal, Direction: domain.DirectionOut,
		Amount: p.Amount, Description: "Withdrawal to " + wallet.BankName, At: w.now(),
	})
	return &Receipt{Transaction: txn, Quote: quote}, nil
}
