package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"splitpay/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore opens a throwaway sqlite database with the full schema.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open("file:"+path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // sqlite: one writer at a time
	require.NoError(t, db.AutoMigrate(&domain.Wallet{}, &domain.Transaction{}, &domain.ReconciliationCase{}))
	return NewGormStore(db)
}

func seedWallet(t *testing.T, s *GormStore, userID uint, balance string) {
	t.Helper()
	b, err := decimal.NewFromString(balance)
	require.NoError(t, err)
	require.NoError(t, s.db.Create(&domain.Wallet{UserID: userID, Balance: b}).Error)
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func TestBalanceEqualsSignedTransactionSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "0")

	steps := []struct {
		credit bool
		amount string
	}{
		{true, "50.00"},
		{true, "25.50"},
		{false, "10.00"},
		{true, "4.50"},
		{false, "30.00"},
	}
	for _, st := range steps {
		p := MutationParams{UserID: 1, Amount: dec(t, st.amount), Kind: domain.KindDeposit, Description: "seq"}
		var err error
		if st.credit {
			_, err = s.Credit(ctx, p)
		} else {
			p.Kind = domain.KindWithdrawal
			_, err = s.Debit(ctx, p)
		}
		require.NoError(t, err)
	}

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)

	var txs []domain.Transaction
	require.NoError(t, s.db.Where("user_id = ?", 1).Find(&txs).Error)
	sum := decimal.Zero
	for i := range txs {
		sum = sum.Add(txs[i].Signed())
	}
	require.True(t, balance.Equal(sum), "balance %s != transaction sum %s", balance, sum)
	require.True(t, balance.Equal(dec(t, "40.00")))
}

func TestDebitInsufficientFundsLeavesNoPartialState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "30.00")

	_, err := s.Debit(ctx, MutationParams{UserID: 1, Amount: dec(t, "30.01"), Kind: domain.KindWithdrawal})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(dec(t, "30.00")))

	// Neither the balance nor the log changed
	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec(t, "30.00")))
	var count int64
	require.NoError(t, s.db.Model(&domain.Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMutationsRejectNonPositiveAmounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "10.00")

	for _, amount := range []string{"0", "-5.00"} {
		p := MutationParams{UserID: 1, Amount: dec(t, amount), Kind: domain.KindDeposit}
		_, err := s.Credit(ctx, p)
		require.ErrorIs(t, err, ErrInvalidAmount)
		_, err = s.Debit(ctx, p)
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestDebitUnknownWallet(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Debit(context.Background(), MutationParams{UserID: 99, Amount: dec(t, "1.00"), Kind: domain.KindWithdrawal})
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "100.00")

	const attempts = 10
	amount := dec(t, "30.00")
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Debit(ctx, MutationParams{UserID: 1, Amount: amount, Kind: domain.KindWithdrawal})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}
	// floor(100/30) identical debits can succeed, no more
	require.Equal(t, 3, succeeded)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec(t, "10.00")), "got %s", balance)
	var count int64
	require.NoError(t, s.db.Model(&domain.Transaction{}).Count(&count).Error)
	require.EqualValues(t, 3, count)
}

func TestIdempotentReplayDoesNotDoubleApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "100.00")

	key := "req-42"
	p := MutationParams{UserID: 1, Amount: dec(t, "40.00"), Kind: domain.KindWithdrawal, IdempotencyKey: &key}

	first, err := s.Debit(ctx, p)
	require.NoError(t, err)
	replay, err := s.Debit(ctx, p)
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec(t, "60.00")))
	var count int64
	require.NoError(t, s.db.Model(&domain.Transaction{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestTransactionLogQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "0")
	seedWallet(t, s, 2, "0")

	_, err := s.Credit(ctx, MutationParams{UserID: 1, Amount: dec(t, "20.00"), Kind: domain.KindDeposit})
	require.NoError(t, err)
	_, err = s.Credit(ctx, MutationParams{UserID: 1, Amount: dec(t, "15.00"), Kind: domain.KindSplitReceived})
	require.NoError(t, err)
	_, err = s.Credit(ctx, MutationParams{UserID: 2, Amount: dec(t, "99.00"), Kind: domain.KindSplitReceived})
	require.NoError(t, err)

	last, err := s.LastDepositAt(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, last)

	none, err := s.LastDepositAt(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, none)

	// Sums and counts are scoped to the requesting user only
	earned, err := s.SumByKindSince(ctx, 1, domain.KindSplitReceived, last.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, earned.Equal(dec(t, "15.00")), "got %s", earned)

	n, err := s.CountByKindSince(ctx, 1, domain.KindDeposit, last.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSameKeyRaceLoserGetsWinnersTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "100.00")

	key := "race-1"
	p := MutationParams{UserID: 1, Amount: dec(t, "40.00"), Kind: domain.KindWithdrawal, IdempotencyKey: &key}
	winner, err := s.Debit(ctx, p)
	require.NoError(t, err)

	// A loser that missed findReplay fails on the unique index after the
	// winner committed; it must be answered with the winner's row
	got, err := s.recoverDuplicate(ctx, p, errors.New("UNIQUE constraint failed: transactions.idempotency_key"))
	require.NoError(t, err)
	require.Equal(t, winner.ID, got.ID)

	// Unrelated failures keep their classification
	_, err = s.recoverDuplicate(ctx, p, errors.New("disk on fire"))
	require.ErrorIs(t, err, ErrPersistence)

	// The balance reflects exactly one application
	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec(t, "60.00")))
}

func TestConcurrentSameKeyDebitsApplyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWallet(t, s, 1, "100.00")

	key := "race-2"
	const attempts = 8
	var wg sync.WaitGroup
	ids := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := s.Debit(ctx, MutationParams{UserID: 1, Amount: dec(t, "40.00"), Kind: domain.KindWithdrawal, IdempotencyKey: &key})
			require.NoError(t, err)
			ids <- txn.ID
		}()
	}
	wg.Wait()
	close(ids)

	// Every caller sees the same committed transaction
	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		require.Equal(t, first, id)
	}
	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec(t, "60.00")))
	var count int64
	require.NoError(t, s.db.Model(&domain.Transaction{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestErrorClassification(t *testing.T) {
	err := classify(errors.New("disk on fire"))
	require.ErrorIs(t, err, ErrPersistence)
	require.NotErrorIs(t, classify(ErrInvalidAmount), ErrPersistence)
}
