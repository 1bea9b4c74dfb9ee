package payment

import (
	"errors"
	"fmt"

	"splitpay/internal/bank"
)

// ErrBankChargeFailed marks a gateway rejection or settlement timeout. No
// ledger mutation has happened when it is returned, so the operation is safe
// to retry.
var ErrBankChargeFailed = errors.New("bank charge failed")

// BankChargeFailedError carries which funding source failed and what the
// gateway last reported.
type BankChargeFailedError struct {
	ChargeID string      // Empty when charge creation itself failed
	Status   bank.Status // Last observed status, if a charge was created
	Cause    error       // Underlying gateway error, if any
}

func (e *BankChargeFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bank charge failed: %v", e.Cause)
	}
	return fmt.Sprintf("bank charge %s not settled: last status %q", e.ChargeID, e.Status)
}

// Unwrap lets errors.Is(err, ErrBankChargeFailed) match.
func (e *BankChargeFailedError) Unwrap() error { return ErrBankChargeFailed }

// ReconciliationError reports that real money moved but the ledger could not
// follow. It is never safe to silently retry (risk of double charge) nor to
// discard (risk of lost funds); the recorded case keeps the divergence
// queryable until someone resolves it.
type ReconciliationError struct {
	CaseID string // Persisted reconciliation case
	Cause  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("settlement diverged from ledger, reconciliation case %s recorded: %v", e.CaseID, e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }
