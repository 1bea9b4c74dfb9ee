package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"splitpay/internal/bank"
	"splitpay/internal/domain"
	"splitpay/internal/ledger"
	"splitpay/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultChargeTimeout bounds how long a settlement waits on the gateway.
const DefaultChargeTimeout = 30 * time.Second

// Ledger is the slice of the ledger store the payment workflows need.
// *ledger.GormStore satisfies it.
type Ledger interface {
	Wallet(ctx context.Context, userID uint) (*domain.Wallet, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	Credit(ctx context.Context, p ledger.MutationParams) (*domain.Transaction, error)
	Debit(ctx context.Context, p ledger.MutationParams) (*domain.Transaction, error)
	Append(ctx context.Context, p ledger.MutationParams) (*domain.Transaction, error)
	RecordReconciliation(ctx context.Context, c *domain.ReconciliationCase) error
}

// Orchestrator settles split-event payments: wallet balance first, a bank
// charge for any shortfall. The bank charge always completes before any
// ledger mutation, so a failed charge never costs wallet funds, and no lock
// or database transaction is ever held across the gateway round-trip.
type Orchestrator struct {
	store         Ledger
	gateway       bank.Gateway
	notifier      notify.Publisher
	chargeTimeout time.Duration
	now           func() time.Time
}

// NewOrchestrator wires a settlement workflow. chargeTimeout <= 0 falls back
// to DefaultChargeTimeout.
func NewOrchestrator(store Ledger, gateway bank.Gateway, notifier notify.Publisher, chargeTimeout time.Duration) *Orchestrator {
	if chargeTimeout <= 0 {
		chargeTimeout = DefaultChargeTimeout
	}
	return &Orchestrator{
		store:         store,
		gateway:       gateway,
		notifier:      notifier,
		chargeTimeout: chargeTimeout,
		now:           time.Now,
	}
}

// SettleParams describes one participant's share of a split being paid.
type SettleParams struct {
	PayerID        uint
	PayeeID        uint
	SplitID        string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey *string // Optional replay guard; legs derive child keys from it
}

// SettleResult reports how the payment was funded and the ledger rows it
// produced.
type SettleResult struct {
	WalletPortion     decimal.Decimal
	BankPortion       decimal.Decimal
	ChargeID          string
	PayerTransactions []*domain.Transaction
	PayeeTransaction  *domain.Transaction
}

// SettleSplit pays one share of a split from payer to payee.
//
// Order of operations is the whole point: bank charge (if any) settles first,
// then the payer debit, then the payee credit. A failure before the debit
// leaves the ledger untouched and is safe to retry; a failure after a settled
// charge is recorded as a reconciliation case rather than returned as an
// ordinary error.
func (o *Orchestrator) SettleSplit(ctx context.Context, p SettleParams) (*SettleResult, error) {
	if !p.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	// A replay of an already-settled payment must return the prior result
	// without touching the gateway: portions recomputed from the drained
	// balance would create a fresh, larger charge no ledger row accounts for.
	if prior, err := o.priorSettlement(ctx, p); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	wallet, err := o.store.Wallet(ctx, p.PayerID)
	if err != nil {
		return nil, err
	}
	walletPortion := decimal.Min(wallet.Balance, p.Amount)
	bankPortion := p.Amount.Sub(walletPortion)
	res := &SettleResult{WalletPortion: walletPortion, BankPortion: bankPortion}

	// Charge the bank for the shortfall before touching the ledger.
	if bankPortion.IsPositive() {
		if !wallet.BankLinked || wallet.BankConsentRef == nil {
			return nil, ledger.ErrBankNotLinked
		}
		if !wallet.HasValidConsent(o.now()) {
			return nil, ledger.ErrConsentExpired
		}
		chargeID, err := o.gateway.CreateCharge(ctx, *wallet.BankConsentRef, bankPortion, "split:"+p.SplitID)
		if err != nil {
			return nil, &BankChargeFailedError{Cause: err}
		}
		res.ChargeID = chargeID
		status, err := o.gateway.ChargeStatus(ctx, chargeID, o.chargeTimeout)
		if err != nil || status != bank.StatusSettled {
			// Timed out or failed: no ledger mutation has happened. If the
			// charge settles out-of-band later, that is a reconciliation
			// concern the gateway report will surface.
			logrus.WithFields(logrus.Fields{
				"charge_id": chargeID,
				"status":    status,
				"payer_id":  p.PayerID,
				"split_id":  p.SplitID,
			}).Warn("Bank charge not settled within timeout")
			return nil, &BankChargeFailedError{ChargeID: chargeID, Status: status, Cause: err}
		}
	}

	// Debit the wallet portion. The conditional update can still lose to a
	// concurrent spend; after a settled charge that is a reconciliation case,
	// not a retryable failure.
	if walletPortion.IsPositive() {
		txn, err := o.store.Debit(ctx, ledger.MutationParams{
			UserID:         p.PayerID,
			Amount:         walletPortion,
			Kind:           domain.KindSplitPayment,
			Description:    p.Description,
			RelatedSplitID: &p.SplitID,
			Metadata:       domain.Metadata{"funding_source": "wallet"},
			IdempotencyKey: childKey(p.IdempotencyKey, "wallet"),
		})
		if err != nil {
			if !errors.Is(err, ledger.ErrInsufficientFunds) {
				return nil, err
			}
			conflict := fmt.Errorf("%w: payer balance dropped below %s", ledger.ErrConcurrencyConflict, walletPortion.StringFixed(2))
			if !bankPortion.IsPositive() {
				return nil, conflict // Nothing external happened; caller may retry
			}
			return nil, o.recordDivergence(ctx, p, res.ChargeID, bankPortion, "wallet debit failed after settled bank charge", conflict)
		}
		res.PayerTransactions = append(res.PayerTransactions, txn)
	}

	// Log the bank-funded leg. The money never entered the wallet, so this is
	// a log-only row marked with its funding source.
	if bankPortion.IsPositive() {
		txn, err := o.store.Append(ctx, ledger.MutationParams{
			UserID:         p.PayerID,
			Amount:         bankPortion,
			Kind:           domain.KindSplitPayment,
			Description:    p.Description,
			RelatedSplitID: &p.SplitID,
			Metadata: domain.Metadata{
				"funding_source": "bank",
				"bank_name":      wallet.BankName,
				"charge_id":      res.ChargeID,
			},
			IdempotencyKey: childKey(p.IdempotencyKey, "bank"),
		})
		if err != nil {
			return nil, o.recordDivergence(ctx, p, res.ChargeID, bankPortion, "bank leg audit record failed after settled charge", err)
		}
		res.PayerTransactions = append(res.PayerTransactions, txn)
	}

	// Credit the payee for the full amount. The payer has paid; losing this
	// step would strand their money, so a failure here is also a
	// reconciliation case.
	payeeTxn, err := o.store.Credit(ctx, ledger.MutationParams{
		UserID:         p.PayeeID,
		Amount:         p.Amount,
		Kind:           domain.KindSplitReceived,
		Description:    p.Description,
		RelatedSplitID: &p.SplitID,
		IdempotencyKey: childKey(p.IdempotencyKey, "payee"),
	})
	if err != nil {
		return nil, o.recordDivergence(ctx, p, res.ChargeID, p.Amount, "payee credit failed after payer side settled", err)
	}
	res.PayeeTransaction = payeeTxn

	logrus.WithFields(logrus.Fields{
		"payer_id":       p.PayerID,
		"payee_id":       p.PayeeID,
		"split_id":       p.SplitID,
		"amount":         p.Amount.StringFixed(2),
		"wallet_portion": walletPortion.StringFixed(2),
		"bank_portion":   bankPortion.StringFixed(2),
	}).Info("Split payment settled")

	o.notifier.Publish(ctx, notify.Event{
		UserID: p.PayerID, Kind: domain.KindSplitPayment, Direction: domain.DirectionOut,
		Amount: p.Amount, Description: p.Description, At: o.now(),
	})
	o.notifier.Publish(ctx, notify.Event{
		UserID: p.PayeeID, Kind: domain.KindSplitReceived, Direction: domain.DirectionIn,
		Amount: p.Amount, Description: p.Description, At: o.now(),
	})
	return res, nil
}

// priorSettlement reconstructs the result of an earlier settlement committed
// under the same idempotency key. The payee credit is the last leg to commit,
// so its presence proves the whole payment went through.
func (o *Orchestrator) priorSettlement(ctx context.Context, p SettleParams) (*SettleResult, error) {
	payeeKey := childKey(p.IdempotencyKey, "payee")
	if payeeKey == nil {
		return nil, nil
	}
	payeeTxn, err := o.store.FindByIdempotencyKey(ctx, *payeeKey)
	if err != nil || payeeTxn == nil {
		return nil, err
	}
	res := &SettleResult{
		WalletPortion:    decimal.Zero,
		BankPortion:      decimal.Zero,
		PayeeTransaction: payeeTxn,
	}
	walletTxn, err := o.store.FindByIdempotencyKey(ctx, *childKey(p.IdempotencyKey, "wallet"))
	if err != nil {
		return nil, err
	}
	if walletTxn != nil {
		res.WalletPortion = walletTxn.Amount
		res.PayerTransactions = append(res.PayerTransactions, walletTxn)
	}
	bankTxn, err := o.store.FindByIdempotencyKey(ctx, *childKey(p.IdempotencyKey, "bank"))
	if err != nil {
		return nil, err
	}
	if bankTxn != nil {
		res.BankPortion = bankTxn.Amount
		res.ChargeID = bankTxn.Metadata["charge_id"]
		res.PayerTransactions = append(res.PayerTransactions, bankTxn)
	}
	logrus.WithFields(logrus.Fields{
		"payer_id": p.PayerID,
		"payee_id": p.PayeeID,
		"split_id": p.SplitID,
		"amount":   p.Amount.StringFixed(2),
	}).Info("Split payment replayed, returning prior settlement")
	return res, nil
}

// recordDivergence persists a reconciliation case for money that moved
// without its ledger counterpart and wraps the cause so callers can render
// the case ID.
func (o *Orchestrator) recordDivergence(ctx context.Context, p SettleParams, chargeID string, amount decimal.Decimal, reason string, cause error) error {
	c := &domain.ReconciliationCase{
		UserID:         p.PayerID,
		ChargeID:       chargeID,
		Amount:         amount,
		RelatedSplitID: &p.SplitID,
		Reason:         reason,
	}
	if err := o.store.RecordReconciliation(ctx, c); err != nil {
		// The case itself could not be written; log everything we know so
		// the divergence is at least greppable.
		logrus.WithFields(logrus.Fields{
			"payer_id":  p.PayerID,
			"charge_id": chargeID,
			"amount":    amount.StringFixed(2),
			"reason":    reason,
			"error":     err.Error(),
		}).Error("Failed to record reconciliation case")
		return &ReconciliationError{Cause: cause}
	}
	return &ReconciliationError{CaseID: c.ID, Cause: cause}
}

// childKey derives a per-leg idempotency key from the caller's request key.
func childKey(key *string, leg string) *string {
	if key == nil || *key == "" {
		return nil
	}
	k := *key + ":" + leg
	return &k
}
