package ledger_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/model"
	"github.com/susu3304/amanteslive/internal/store/memory"
)

func newLedger(t *testing.T, balances map[string]int64) (*ledger.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	for id, bal := range balances {
		_, _, err := store.CreateProfileIfMissing(context.Background(), model.Profile{ID: id, Balance: bal})
		require.NoError(t, err)
	}
	m := ledger.NewManager(store)
	m.SetRefundBackoff(0)
	return m, store
}

func gift(user string, amount int64) model.Transaction {
	return model.Transaction{UserID: user, CreatorID: "streamer", Kind: model.KindMimo, Gross: amount}
}

func TestDebitRecordsSplit(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 100})

	tx, err := m.Debit(ctx, gift("viewer", 50))
	require.NoError(t, err)
	assert.Equal(t, int64(50), tx.BalanceAfter)
	assert.Equal(t, int64(35), tx.CreatorShare)
	assert.Equal(t, int64(15), tx.PlatformShare)
	assert.Equal(t, "streamer", tx.CreatorID)
	assert.NotEmpty(t, tx.ID)

	txs, err := m.Transactions(ctx, "viewer", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)
}

func TestDebitInsufficientLeavesBalance(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 30})

	_, err := m.Debit(ctx, gift("viewer", 50))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	bal, err := m.Balance(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
	txs, _ := m.Transactions(ctx, "viewer", 10)
	assert.Empty(t, txs)
}

func TestDebitValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 100})

	tests := []struct {
		name string
		tx   model.Transaction
		err  error
	}{
		{"zero", gift("viewer", 0), ledger.ErrInvalidAmount},
		{"negative", gift("viewer", -5), ledger.ErrInvalidAmount},
		{"no creator", model.Transaction{UserID: "viewer", Kind: model.KindProduct, Gross: 10}, ledger.ErrMissingCreator},
		{"buyer as creator", model.Transaction{UserID: "viewer", CreatorID: "viewer", Kind: model.KindSubscription, Gross: 10}, ledger.ErrSelfAttribution},
		{"unknown account", gift("ghost", 10), ledger.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Debit(ctx, tt.tx)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	bal, _ := m.Balance(ctx, "viewer")
	assert.Equal(t, int64(100), bal)
}

func TestBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 500})
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		amount := rng.Int63n(120) + 1
		if rng.Intn(3) == 0 {
			_, err := m.Credit(ctx, "viewer", amount, model.KindRecharge, "")
			require.NoError(t, err)
		} else {
			before, _ := m.Balance(ctx, "viewer")
			_, err := m.Debit(ctx, gift("viewer", amount))
			after, _ := m.Balance(ctx, "viewer")
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
				require.Equal(t, before, after)
			} else {
				require.Equal(t, before-amount, after)
			}
		}
		bal, _ := m.Balance(ctx, "viewer")
		require.GreaterOrEqual(t, bal, int64(0))
	}
}

func TestConcurrentDebitsDoNotOverspend(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 100})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Debit(ctx, gift("viewer", 10)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	bal, _ := m.Balance(ctx, "viewer")
	assert.Zero(t, bal)
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 0})

	tx, err := m.Credit(ctx, "viewer", 200, model.KindRecharge, "pix")
	require.NoError(t, err)
	assert.Equal(t, int64(200), tx.BalanceAfter)
	assert.Zero(t, tx.CreatorShare)

	_, err = m.Credit(ctx, "viewer", -1, model.KindRecharge, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	tx, err = m.Credit(ctx, "viewer", 0, model.KindRecharge, "")
	require.NoError(t, err)
	assert.Equal(t, int64(200), tx.BalanceAfter)
}

func TestCreditRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"u": 1000})

	for _, amount := range []int64{math.MaxInt64, ledger.MaxBalance, ledger.MaxBalance - 999} {
		_, err := m.Credit(ctx, "u", amount, model.KindRecharge, "")
		assert.ErrorIs(t, err, ledger.ErrBalanceOverflow, "amount %d", amount)
	}
	bal, err := m.Balance(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)

	txs, err := m.Transactions(ctx, "u", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	tx, err := m.Credit(ctx, "u", ledger.MaxBalance-1000, model.KindRecharge, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxBalance, tx.BalanceAfter)

	_, err = m.Credit(ctx, "u", 1, model.KindRecharge, "")
	assert.ErrorIs(t, err, ledger.ErrBalanceOverflow)
}

func TestDebitThenRefundsOnRecordFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"buyer": 250})
	writeErr := errors.New("purchase insert failed")

	_, err := m.DebitThen(ctx, gift("buyer", 100), func(context.Context, model.Transaction) error {
		return writeErr
	})
	assert.ErrorIs(t, err, writeErr)

	bal, _ := m.Balance(ctx, "buyer")
	assert.Equal(t, int64(250), bal, "balance restored to its pre-debit value")

	txs, _ := m.Transactions(ctx, "buyer", 10)
	require.Len(t, txs, 2)
	assert.Equal(t, model.KindRefund, txs[0].Kind)
	assert.Equal(t, txs[1].ID, txs[0].Reference)
	assert.Equal(t, txs[1].Gross, txs[0].Gross)
}

func TestDebitThenSuccess(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"buyer": 250})

	var seen model.Transaction
	tx, err := m.DebitThen(ctx, gift("buyer", 100), func(_ context.Context, d model.Transaction) error {
		seen = d
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, tx.ID, seen.ID)
	bal, _ := m.Balance(ctx, "buyer")
	assert.Equal(t, int64(150), bal)
}

func TestDebitThenSkipsRecordWhenShort(t *testing.T) {
	m, _ := newLedger(t, map[string]int64{"buyer": 10})
	called := false
	_, err := m.DebitThen(context.Background(), gift("buyer", 100), func(context.Context, model.Transaction) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.False(t, called)
}

func TestRefundSurvivesCancelledContext(t *testing.T) {
	m, _ := newLedger(t, map[string]int64{"buyer": 100})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.DebitThen(ctx, gift("buyer", 40), func(context.Context, model.Transaction) error {
		cancel()
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	bal, _ := m.Balance(context.Background(), "buyer")
	assert.Equal(t, int64(100), bal)
}

func TestBalanceWatchers(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"viewer": 100})
	var got []int64
	m.OnBalance(func(userID string, balance int64) {
		if userID == "viewer" {
			got = append(got, balance)
		}
	})

	_, _ = m.Debit(ctx, gift("viewer", 30))
	_, _ = m.Debit(ctx, gift("viewer", 300))
	_, _ = m.Credit(ctx, "viewer", 5, model.KindRecharge, "")
	assert.Equal(t, []int64{70, 75}, got)
}

func TestEarnings(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, map[string]int64{"a": 1000, "b": 1000})

	_, err := m.Debit(ctx, gift("a", 100))
	require.NoError(t, err)
	_, err = m.Debit(ctx, model.Transaction{UserID: "b", CreatorID: "streamer", Kind: model.KindProduct, Gross: 33})
	require.NoError(t, err)
	_, err = m.Debit(ctx, model.Transaction{UserID: "b", CreatorID: "someone-else", Kind: model.KindProduct, Gross: 500})
	require.NoError(t, err)

	e, err := m.Earnings(ctx, "streamer")
	require.NoError(t, err)
	assert.Equal(t, int64(70+23), e.Total)
	assert.Equal(t, int64(30+10), e.PlatformTotal)
	assert.Equal(t, int64(70), e.ByKind[model.KindMimo])
}

func TestApplyCommissionSplit(t *testing.T) {
	c, p := ledger.ApplyCommissionSplit(101)
	assert.Equal(t, int64(70), c)
	assert.Equal(t, int64(31), p)
}
