package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"splitpay/internal/domain" // Wallet and Transaction models

	"github.com/google/uuid"        // Transaction IDs
	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Structured logging
	"gorm.io/gorm"                  // GORM ORM library
)

// MutationParams describes one balance-affecting event. The optional
// idempotency key makes replays of the same mutation return the original
// transaction instead of applying it twice.
type MutationParams struct {
	UserID         uint
	Amount         decimal.Decimal
	Kind           string
	Description    string
	RelatedSplitID *string
	Metadata       domain.Metadata
	IdempotencyKey *string
}

// Store is the only component allowed to mutate balances. Every mutation is
// atomic with its transaction-log insert: either both commit or neither does.
type Store interface {
	// Balance returns the current committed balance, never a cached value.
	Balance(ctx context.Context, userID uint) (decimal.Decimal, error)
	// Wallet returns the full wallet row, including bank-link state.
	Wallet(ctx context.Context, userID uint) (*domain.Wallet, error)
	// Credit increases the balance and records an in-direction transaction.
	Credit(ctx context.Context, p MutationParams) (*domain.Transaction, error)
	// Debit decreases the balance only if it stays non-negative, and records
	// an out-direction transaction. Concurrent debits against the same wallet
	// are serialized: two debits can never both pass the balance check
	// against the same stale value.
	Debit(ctx context.Context, p MutationParams) (*domain.Transaction, error)
	// Append records a log-only transaction with no balance change. Used for
	// the bank-funded leg of a split payment, where the money never entered
	// the wallet.
	Append(ctx context.Context, p MutationParams) (*domain.Transaction, error)
}

// GormStore implements Store and the transaction-log query layer on a
// relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Balance reads the committed balance straight from the wallets table.
func (s *GormStore) Balance(ctx context.Context, userID uint) (decimal.Decimal, error) {
	w, err := s.Wallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Wallet fetches the wallet row for a user.
func (s *GormStore) Wallet(ctx context.Context, userID uint) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, wrapPersistence(err)
	}
	return &w, nil
}

// Credit increases the balance and inserts the matching transaction row in a
// single database transaction.
func (s *GormStore) Credit(ctx context.Context, p MutationParams) (*domain.Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replay, err := findReplay(tx, p.IdempotencyKey); err != nil {
			return err
		} else if replay != nil {
			txn = replay
			return nil
		}
		// Credits only increase the balance, so no condition beyond row
		// existence is needed.
		res := tx.Model(&domain.Wallet{}).
			Where("user_id = ?", p.UserID).
			Update("balance", gorm.Expr("balance + ?", p.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWalletNotFound
		}
		t := newTransaction(p, domain.DirectionIn)
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, p, err)
	}
	logMutation(txn)
	return txn, nil
}

// Debit applies a conditional single-statement decrement: the balance check
// and the subtraction commit atomically, so concurrent debits against the
// same wallet are linearized by the database. Zero rows affected means the
// balance no longer covers the amount.
func (s *GormStore) Debit(ctx context.Context, p MutationParams) (*domain.Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replay, err := findReplay(tx, p.IdempotencyKey); err != nil {
			return err
		} else if replay != nil {
			txn = replay
			return nil
		}
		res := tx.Model(&domain.Wallet{}).
			Where("user_id = ? AND balance >= ?", p.UserID, p.Amount).
			Update("balance", gorm.Expr("balance - ?", p.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Distinguish a missing wallet from an uncovered amount.
			var w domain.Wallet
			if err := tx.Where("user_id = ?", p.UserID).First(&w).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrWalletNotFound
				}
				return err
			}
			return &InsufficientFundsError{Available: w.Balance}
		}
		t := newTransaction(p, domain.DirectionOut)
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, p, err)
	}
	logMutation(txn)
	return txn, nil
}

// Append inserts a transaction row without touching any balance.
func (s *GormStore) Append(ctx context.Context, p MutationParams) (*domain.Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replay, err := findReplay(tx, p.IdempotencyKey); err != nil {
			return err
		} else if replay != nil {
			txn = replay
			return nil
		}
		t := newTransaction(p, domain.DirectionOut)
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, p, err)
	}
	logMutation(txn)
	return txn, nil
}

// newTransaction builds the immutable log row for a mutation.
func newTransaction(p MutationParams, direction string) *domain.Transaction {
	return &domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Direction:      direction,
		Description:    p.Description,
		RelatedSplitID: p.RelatedSplitID,
		Metadata:       p.Metadata,
		IdempotencyKey: p.IdempotencyKey,
	}
}

// FindByIdempotencyKey returns the committed transaction carrying the given
// idempotency key, or nil when no mutation with that key ever committed.
func (s *GormStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPersistence(err)
	}
	return &t, nil
}

// isDuplicateKey reports whether err is a unique-constraint violation. The
// message checks cover the MySQL and sqlite drivers, which do not both
// translate to gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// recoverDuplicate resolves the loser of a same-key race. Two concurrent
// mutations with one idempotency key can both miss findReplay; the loser then
// fails on the unique index after the winner committed, and must be answered
// with the winner's transaction, not an error.
func (s *GormStore) recoverDuplicate(ctx context.Context, p MutationParams, err error) (*domain.Transaction, error) {
	if p.IdempotencyKey == nil || *p.IdempotencyKey == "" || !isDuplicateKey(err) {
		return nil, classify(err)
	}
	winner, ferr := s.FindByIdempotencyKey(ctx, *p.IdempotencyKey)
	if ferr != nil || winner == nil {
		return nil, classify(err)
	}
	return winner, nil
}

// findReplay returns the already-committed transaction for an idempotency
// key, or nil when the key is unused.
func findReplay(tx *gorm.DB, key *string) (*domain.Transaction, error) {
	if key == nil || *key == "" {
		return nil, nil
	}
	var existing domain.Transaction
	err := tx.Where("idempotency_key = ?", *key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// classify keeps domain refusals intact and tags everything else as a
// persistence failure.
func classify(err error) error {
	var insufficient *InsufficientFundsError
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrWalletNotFound),
		errors.As(err, &insufficient):
		return err
	default:
		return wrapPersistence(err)
	}
}

// logMutation emits the audit log line for a committed ledger mutation.
func logMutation(t *domain.Transaction) {
	logrus.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"user_id":        t.UserID,
		"kind":           t.Kind,
		"direction":      t.Direction,
		"amount":         t.Amount.StringFixed(2),
	}).Info("Ledger mutation committed")
}

// --- Transaction-log query layer ---

// Transactions returns one page of a user's history, newest first, with the
// total row count for pagination.
func (s *GormStore) Transactions(ctx context.Context, userID uint, offset, limit int) ([]domain.Transaction, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&domain.Transaction{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapPersistence(err)
	}
	var txs []domain.Transaction
	if err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&txs).Error; err != nil {
		return nil, 0, wrapPersistence(err)
	}
	return txs, total, nil
}

// LastDepositAt returns the time of the user's most recent deposit, or nil if
// they never deposited.
func (s *GormStore) LastDepositAt(ctx context.Context, userID uint) (*time.Time, error) {
	var t domain.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, domain.KindDeposit).
		Order("created_at desc").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPersistence(err)
	}
	return &t.CreatedAt, nil
}

// SumByKindSince totals a user's transactions of one kind created at or after
// the given instant.
func (s *GormStore) SumByKindSince(ctx context.Context, userID uint, kind string, since time.Time) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND kind = ? AND created_at >= ?", userID, kind, since).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, wrapPersistence(err)
	}
	return row.Total, nil
}

// CountByKindSince counts a user's transactions of one kind created at or
// after the given instant.
func (s *GormStore) CountByKindSince(ctx context.Context, userID uint, kind string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("user_id = ? AND kind = ? AND created_at >= ?", userID, kind, since).
		Count(&n).Error
	if err != nil {
		return 0, wrapPersistence(err)
	}
	return n, nil
}

// --- Reconciliation cases ---

// RecordReconciliation persists a bank/ledger divergence so it can be found
// and resolved out-of-band.
func (s *GormStore) RecordReconciliation(ctx context.Context, c *domain.ReconciliationCase) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return wrapPersistence(err)
	}
	logrus.WithFields(logrus.Fields{
		"case_id":   c.ID,
		"user_id":   c.UserID,
		"charge_id": c.ChargeID,
		"amount":    c.Amount.StringFixed(2),
		"reason":    c.Reason,
	}).Error("Reconciliation case recorded")
	return nil
}

// OpenReconciliations lists unresolved cases, oldest first.
func (s *GormStore) OpenReconciliations(ctx context.Context) ([]domain.ReconciliationCase, error) {
	var cases []domain.ReconciliationCase
	err := s.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at asc").
		Find(&cases).Error
	if err != nil {
		return nil, wrapPersistence(err)
	}
	return cases, nil
}
