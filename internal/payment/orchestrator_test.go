package payment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"splitpay/internal/bank"
	"splitpay/internal/domain"
	"splitpay/internal/ledger"
	"splitpay/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestLedger opens a throwaway sqlite-backed ledger store.
func newTestLedger(t *testing.T) (*ledger.GormStore, *gorm.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payment.db")
	db, err := gorm.Open(sqlite.Open("file:"+path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Wallet{}, &domain.Transaction{}, &domain.ReconciliationCase{}))
	return ledger.NewGormStore(db), db
}

func linkedWallet(t *testing.T, db *gorm.DB, userID uint, balance string) {
	t.Helper()
	consent := "consent-" + time.Now().Format("150405")
	expiry := time.Now().Add(48 * time.Hour)
	require.NoError(t, db.Create(&domain.Wallet{
		UserID:            userID,
		Balance:           decimal.RequireFromString(balance),
		BankLinked:        true,
		BankName:          "Test Bank",
		BankConsentRef:    &consent,
		BankConsentExpiry: &expiry,
	}).Error)
}

func plainWallet(t *testing.T, db *gorm.DB, userID uint, balance string) {
	t.Helper()
	require.NoError(t, db.Create(&domain.Wallet{
		UserID:  userID,
		Balance: decimal.RequireFromString(balance),
	}).Error)
}

// fakeGateway scripts charge outcomes and records calls.
type fakeGateway struct {
	createErr    error
	status       bank.Status
	statusErr    error
	createdCalls int
	lastAmount   decimal.Decimal
	revoked      []string
}

func (f *fakeGateway) CreateCharge(_ context.Context, _ string, amount decimal.Decimal, _ string) (string, error) {
	f.createdCalls++
	f.lastAmount = amount
	if f.createErr != nil {
		return "", f.createErr
	}
	return "charge-1", nil
}

func (f *fakeGateway) ChargeStatus(context.Context, string, time.Duration) (bank.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeGateway) RevokeConsent(_ context.Context, ref string) error {
	f.revoked = append(f.revoked, ref)
	return nil
}

func balanceOf(t *testing.T, store *ledger.GormStore, userID uint) decimal.Decimal {
	t.Helper()
	b, err := store.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestHybridSplitSettlesWalletAndBankPortions(t *testing.T) {
	store, db := newTestLedger(t)
	linkedWallet(t, db, 1, "30.00")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusSettled}
	o := NewOrchestrator(store, gw, notify.Nop{}, time.Second)

	res, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-7",
		Amount: decimal.RequireFromString("50.00"), Description: "Dinner",
	})
	require.NoError(t, err)
	require.Equal(t, "30.00", res.WalletPortion.StringFixed(2))
	require.Equal(t, "20.00", res.BankPortion.StringFixed(2))
	require.Equal(t, 1, gw.createdCalls)
	require.True(t, gw.lastAmount.Equal(decimal.RequireFromString("20.00")))

	require.True(t, balanceOf(t, store, 1).IsZero())
	require.True(t, balanceOf(t, store, 2).Equal(decimal.RequireFromString("50.00")))

	// Two payer-side rows, one per funding source, plus one payee row
	require.Len(t, res.PayerTransactions, 2)
	require.Equal(t, "wallet", res.PayerTransactions[0].Metadata["funding_source"])
	require.Equal(t, "bank", res.PayerTransactions[1].Metadata["funding_source"])
	require.NotNil(t, res.PayeeTransaction)
	require.Equal(t, domain.KindSplitReceived, res.PayeeTransaction.Kind)
	require.True(t, res.PayeeTransaction.Amount.Equal(decimal.RequireFromString("50.00")))
}

func TestFailedBankChargeLeavesLedgerUntouched(t *testing.T) {
	store, db := newTestLedger(t)
	linkedWallet(t, db, 1, "30.00")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusFailed}
	o := NewOrchestrator(store, gw, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-7",
		Amount: decimal.RequireFromString("50.00"),
	})
	require.ErrorIs(t, err, ErrBankChargeFailed)

	require.True(t, balanceOf(t, store, 1).Equal(decimal.RequireFromString("30.00")))
	require.True(t, balanceOf(t, store, 2).IsZero())
	var count int64
	require.NoError(t, db.Model(&domain.Transaction{}).Count(&count).Error)
	require.Zero(t, count, "no transaction may be recorded for a failed attempt")
}

func TestPendingChargeAtTimeoutIsTreatedAsFailed(t *testing.T) {
	store, db := newTestLedger(t)
	linkedWallet(t, db, 1, "0")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusPending}
	o := NewOrchestrator(store, gw, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-8",
		Amount: decimal.RequireFromString("10.00"),
	})
	require.ErrorIs(t, err, ErrBankChargeFailed)
	var chargeErr *BankChargeFailedError
	require.ErrorAs(t, err, &chargeErr)
	require.Equal(t, bank.StatusPending, chargeErr.Status)
	require.True(t, balanceOf(t, store, 2).IsZero())
}

func TestWalletOnlySplitSkipsGateway(t *testing.T) {
	store, db := newTestLedger(t)
	plainWallet(t, db, 1, "100.00")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusFailed} // Would fail if called
	o := NewOrchestrator(store, gw, notify.Nop{}, time.Second)

	res, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-9",
		Amount: decimal.RequireFromString("40.00"),
	})
	require.NoError(t, err)
	require.Zero(t, gw.createdCalls)
	require.Len(t, res.PayerTransactions, 1)
	require.True(t, balanceOf(t, store, 1).Equal(decimal.RequireFromString("60.00")))
	require.True(t, balanceOf(t, store, 2).Equal(decimal.RequireFromString("40.00")))
}

func TestShortfallWithoutLinkedBank(t *testing.T) {
	store, db := newTestLedger(t)
	plainWallet(t, db, 1, "30.00")
	plainWallet(t, db, 2, "0")
	o := NewOrchestrator(store, &fakeGateway{}, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-10",
		Amount: decimal.RequireFromString("50.00"),
	})
	require.ErrorIs(t, err, ledger.ErrBankNotLinked)
	require.True(t, balanceOf(t, store, 1).Equal(decimal.RequireFromString("30.00")))
}

func TestShortfallWithExpiredConsent(t *testing.T) {
	store, db := newTestLedger(t)
	consent := "consent-old"
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&domain.Wallet{
		UserID:            1,
		Balance:           decimal.RequireFromString("30.00"),
		BankLinked:        true,
		BankConsentRef:    &consent,
		BankConsentExpiry: &expired,
	}).Error)
	plainWallet(t, db, 2, "0")
	o := NewOrchestrator(store, &fakeGateway{status: bank.StatusSettled}, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-11",
		Amount: decimal.RequireFromString("50.00"),
	})
	require.ErrorIs(t, err, ledger.ErrConsentExpired)
}

func TestInvalidAmountFailsImmediately(t *testing.T) {
	store, db := newTestLedger(t)
	plainWallet(t, db, 1, "30.00")
	o := NewOrchestrator(store, &fakeGateway{}, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-12",
		Amount: decimal.Zero,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// conflictStore simulates a concurrent spend between the settled bank charge
// and the wallet debit.
type conflictStore struct {
	*ledger.GormStore
}

func (c *conflictStore) Debit(context.Context, ledger.MutationParams) (*domain.Transaction, error) {
	return nil, &ledger.InsufficientFundsError{Available: decimal.Zero}
}

func TestDebitConflictAfterSettledChargeRecordsReconciliation(t *testing.T) {
	store, db := newTestLedger(t)
	linkedWallet(t, db, 1, "30.00")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusSettled}
	o := NewOrchestrator(&conflictStore{store}, gw, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-13",
		Amount: decimal.RequireFromString("50.00"),
	})

	var reconErr *ReconciliationError
	require.ErrorAs(t, err, &reconErr)
	require.NotEmpty(t, reconErr.CaseID)
	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)

	// The divergence is queryable, not just logged
	cases, err := store.OpenReconciliations(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, reconErr.CaseID, cases[0].ID)
	require.Equal(t, "charge-1", cases[0].ChargeID)
	require.True(t, cases[0].Amount.Equal(decimal.RequireFromString("20.00")))
}

func TestConflictWithoutChargeIsRetryable(t *testing.T) {
	store, db := newTestLedger(t)
	plainWallet(t, db, 1, "100.00")
	plainWallet(t, db, 2, "0")
	o := NewOrchestrator(&conflictStore{store}, &fakeGateway{}, notify.Nop{}, time.Second)

	_, err := o.SettleSplit(context.Background(), SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-14",
		Amount: decimal.RequireFromString("40.00"),
	})
	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	var reconErr *ReconciliationError
	require.False(t, errors.As(err, &reconErr), "no external charge, no reconciliation case")

	cases, err := store.OpenReconciliations(context.Background())
	require.NoError(t, err)
	require.Empty(t, cases)
}

func TestSettleReplayWithIdempotencyKey(t *testing.T) {
	store, db := newTestLedger(t)
	plainWallet(t, db, 1, "100.00")
	plainWallet(t, db, 2, "0")
	o := NewOrchestrator(store, &fakeGateway{}, notify.Nop{}, time.Second)

	key := "pay-123"
	p := SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-15",
		Amount: decimal.RequireFromString("40.00"), IdempotencyKey: &key,
	}
	_, err := o.SettleSplit(context.Background(), p)
	require.NoError(t, err)
	_, err = o.SettleSplit(context.Background(), p)
	require.NoError(t, err)

	// Replay applied nothing twice
	require.True(t, balanceOf(t, store, 1).Equal(decimal.RequireFromString("60.00")))
	require.True(t, balanceOf(t, store, 2).Equal(decimal.RequireFromString("40.00")))
	var count int64
	require.NoError(t, db.Model(&domain.Transaction{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestSettledHybridReplayDoesNotRechargeBank(t *testing.T) {
	store, db := newTestLedger(t)
	linkedWallet(t, db, 1, "30.00")
	plainWallet(t, db, 2, "0")
	gw := &fakeGateway{status: bank.StatusSettled}
	o := NewOrchestrator(store, gw, notify.Nop{}, time.Second)

	key := "pay-77"
	params := SettleParams{
		PayerID: 1, PayeeID: 2, SplitID: "split-16",
		Amount: decimal.RequireFromString("50.00"), IdempotencyKey: &key,
	}
	first, err := o.SettleSplit(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, gw.createdCalls)

	// The payer balance is drained now; a naive replay would recompute the
	// portions and charge the gateway for the full 50.00
	replay, err := o.SettleSplit(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, gw.createdCalls, "replay must not touch the gateway")

	// The prior result comes back, funding split included
	require.Equal(t, "30.00", replay.WalletPortion.StringFixed(2))
	require.Equal(t, "20.00", replay.BankPortion.StringFixed(2))
	require.Equal(t, "charge-1", replay.ChargeID)
	require.Equal(t, first.PayeeTransaction.ID, replay.PayeeTransaction.ID)
	require.Len(t, replay.PayerTransactions, 2)

	// And nothing was applied twice
	require.True(t, balanceOf(t, store, 1).IsZero())
	require.True(t, balanceOf(t, store, 2).Equal(decimal.RequireFromString("50.00")))
	var count int64
	require.NoError(t, db.Model(&domain.Transaction{}).Count(&count).Error)
	require.EqualValues(t, 3, count)
}
