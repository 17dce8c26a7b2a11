// Package ledger owns every CRISEX balance mutation.
//
// A debit is a single conditional decrement plus its transaction record,
// applied atomically by the Store. Callers that must write a dependent
// record after the debit go through DebitThen, which issues the
// compensating credit when that write fails.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/commission"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/metrics"
	"github.com/susu3304/amanteslive/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAccountNotFound     = errors.New("account not found")
	ErrMissingCreator      = errors.New("monetized transaction needs a creator")
	ErrSelfAttribution     = errors.New("creator cannot be the paying user")
	ErrBalanceOverflow     = errors.New("credit would exceed the maximum balance")
)

// MaxBalance is the largest balance an account may hold. Stores reject
// credits that would pass it.
const MaxBalance int64 = 1_000_000_000_000

// Store persists balances and their transaction records.
type Store interface {
	// ApplyDebit decrements the balance only if it covers tx.Gross and
	// records tx in the same unit of work.
	ApplyDebit(ctx context.Context, tx model.Transaction) (model.Transaction, error)
	// ApplyCredit fails with ErrBalanceOverflow, leaving the balance
	// untouched, when the result would exceed MaxBalance.
	ApplyCredit(ctx context.Context, tx model.Transaction) (model.Transaction, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	Earnings(ctx context.Context, creatorID string) (model.Earnings, error)
}

// BalanceFunc observes the authoritative balance after a mutation.
type BalanceFunc func(userID string, balance int64)

type Manager struct {
	store Store
	log   *logrus.Entry

	mu       sync.RWMutex
	watchers []BalanceFunc

	refundAttempts int
	refundBackoff  time.Duration
}

func NewManager(store Store) *Manager {
	return &Manager{
		store:          store,
		log:            logging.Component("ledger"),
		refundAttempts: 3,
		refundBackoff:  200 * time.Millisecond,
	}
}

// OnBalance registers a watcher called after every successful mutation.
func (m *Manager) OnBalance(fn BalanceFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Announce forwards a balance changed outside Debit/Credit (the gift unit) to watchers.
func (m *Manager) Announce(userID string, balance int64) {
	m.mu.RLock()
	watchers := append([]BalanceFunc(nil), m.watchers...)
	m.mu.RUnlock()
	for _, fn := range watchers {
		fn(userID, balance)
	}
}

// ApplyCommissionSplit returns the creator and platform shares of gross.
func ApplyCommissionSplit(gross int64) (creatorShare, platformShare int64) {
	s := commission.MustApply(gross)
	return s.CreatorShare, s.PlatformShare
}

// Prepare validates a debit and fills in the split and direction.
func Prepare(tx model.Transaction) (model.Transaction, error) {
	if tx.Gross <= 0 {
		return tx, ErrInvalidAmount
	}
	tx.Direction = model.DirectionDebit
	if !tx.Kind.Monetized() {
		tx.CreatorID = ""
		tx.CreatorShare, tx.PlatformShare = 0, 0
		return tx, nil
	}
	if tx.CreatorID == "" {
		return tx, ErrMissingCreator
	}
	if tx.CreatorID == tx.UserID {
		return tx, ErrSelfAttribution
	}
	tx.CreatorShare, tx.PlatformShare = ApplyCommissionSplit(tx.Gross)
	return tx, nil
}

// Debit charges tx.UserID tx.Gross and records tx. It fails with
// ErrInsufficientBalance, leaving the balance untouched, when funds are short.
func (m *Manager) Debit(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	tx, err := Prepare(tx)
	if err != nil {
		return tx, err
	}
	recorded, err := m.store.ApplyDebit(ctx, tx)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.RecordRejection("insufficient_balance")
		}
		return model.Transaction{}, err
	}
	metrics.RecordDebit(string(recorded.Kind), recorded.Gross)
	m.Announce(recorded.UserID, recorded.BalanceAfter)
	return recorded, nil
}

// Credit adds a non-negative amount. Zero credits are accepted and not recorded.
func (m *Manager) Credit(ctx context.Context, userID string, amount int64, kind model.TxKind, reference string) (model.Transaction, error) {
	if amount < 0 {
		return model.Transaction{}, ErrInvalidAmount
	}
	if amount > MaxBalance {
		return model.Transaction{}, ErrBalanceOverflow
	}
	if amount == 0 {
		bal, err := m.store.Balance(ctx, userID)
		return model.Transaction{UserID: userID, Kind: kind, Direction: model.DirectionCredit, BalanceAfter: bal}, err
	}
	recorded, err := m.store.ApplyCredit(ctx, model.Transaction{
		UserID:    userID,
		Kind:      kind,
		Direction: model.DirectionCredit,
		Gross:     amount,
		Reference: reference,
	})
	if err != nil {
		return model.Transaction{}, err
	}
	metrics.RecordCredit(string(kind), amount)
	m.Announce(userID, recorded.BalanceAfter)
	return recorded, nil
}

// Refund reverses a recorded debit with a credit of the same amount.
// The credit is attempted even if ctx has been cancelled.
func (m *Manager) Refund(ctx context.Context, debit model.Transaction, cause error) (model.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= m.refundAttempts; attempt++ {
		tx, err := m.Credit(ctx, debit.UserID, debit.Gross, model.KindRefund, debit.ID)
		if err == nil {
			m.log.WithFields(logrus.Fields{
				"user_id": debit.UserID,
				"amount":  debit.Gross,
				"debit":   debit.ID,
				"cause":   cause,
			}).Warn("refunded debit after dependent write failed")
			return tx, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt) * m.refundBackoff)
	}
	m.log.WithFields(logrus.Fields{
		"user_id": debit.UserID,
		"amount":  debit.Gross,
		"debit":   debit.ID,
	}).WithError(lastErr).Error("refund failed")
	return model.Transaction{}, fmt.Errorf("refund of %s failed: %w", debit.ID, lastErr)
}

// DebitThen debits, runs record, and refunds the debit if record fails.
// The returned error is record's error (or the debit's), never nil on refund.
func (m *Manager) DebitThen(ctx context.Context, tx model.Transaction, record func(ctx context.Context, debit model.Transaction) error) (model.Transaction, error) {
	debit, err := m.Debit(ctx, tx)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := record(ctx, debit); err != nil {
		if _, rerr := m.Refund(ctx, debit, err); rerr != nil {
			return model.Transaction{}, errors.Join(err, rerr)
		}
		return model.Transaction{}, err
	}
	return debit, nil
}

// EnsureFunds is a read-only sufficiency check. It does not reserve funds.
func (m *Manager) EnsureFunds(ctx context.Context, userID string, amount int64) error {
	bal, err := m.store.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientBalance
	}
	return nil
}

func (m *Manager) Balance(ctx context.Context, userID string) (int64, error) {
	return m.store.Balance(ctx, userID)
}

func (m *Manager) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.store.Transactions(ctx, userID, limit)
}

func (m *Manager) Earnings(ctx context.Context, creatorID string) (model.Earnings, error) {
	return m.store.Earnings(ctx, creatorID)
}
