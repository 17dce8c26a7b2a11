package discrete_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/amanteslive/internal/discrete"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/model"
	"github.com/susu3304/amanteslive/internal/store/memory"
)

type harness struct {
	biller  *discrete.Biller
	ledger  *ledger.Manager
	store   *memory.Store
	lives   *live.Service
	live    *live.Session
	notices chan discrete.Notice
}

func newHarness(t *testing.T, balance int64, interval time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for id, bal := range map[string]int64{"viewer": balance, "streamer": 0} {
		_, _, err := store.CreateProfileIfMissing(ctx, model.Profile{ID: id, Balance: bal})
		require.NoError(t, err)
	}
	lives := live.NewService(store, 100)
	sess, err := lives.Start(ctx, "streamer", live.StartRequest{Title: "Live", Categories: []string{"homens"}})
	require.NoError(t, err)

	m := ledger.NewManager(store)
	b := discrete.NewBiller(m, lives, 10, interval)
	notices := make(chan discrete.Notice, 64)
	b.OnNotice(func(n discrete.Notice) { notices <- n })
	t.Cleanup(b.Stop)
	return &harness{biller: b, ledger: m, store: store, lives: lives, live: sess, notices: notices}
}

func (h *harness) next(t *testing.T) discrete.Notice {
	t.Helper()
	select {
	case n := <-h.notices:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
		return discrete.Notice{}
	}
}

func TestBillingUntilExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 15, 10*time.Millisecond)

	require.NoError(t, h.biller.Activate(ctx, "viewer", h.live.ID))
	assert.Equal(t, discrete.NoticeActivated, h.next(t).Kind)

	charged := h.next(t)
	assert.Equal(t, discrete.NoticeCharged, charged.Kind)
	assert.Equal(t, int64(5), charged.Balance)

	exhausted := h.next(t)
	assert.Equal(t, discrete.NoticeExhausted, exhausted.Kind)
	assert.Equal(t, int64(5), exhausted.Balance)
	assert.False(t, h.biller.Active("viewer", h.live.ID))

	time.Sleep(50 * time.Millisecond)
	bal, _ := h.ledger.Balance(ctx, "viewer")
	assert.Equal(t, int64(5), bal)
	txs, _ := h.ledger.Transactions(ctx, "viewer", 10)
	require.Len(t, txs, 1)
	assert.Equal(t, model.KindDiscrete, txs[0].Kind)
	assert.Equal(t, "streamer", txs[0].CreatorID)

	assert.ErrorIs(t, h.biller.Activate(ctx, "viewer", h.live.ID), ledger.ErrInsufficientBalance)
}

func TestActivateChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5, time.Hour)

	assert.ErrorIs(t, h.biller.Activate(ctx, "viewer", h.live.ID), ledger.ErrInsufficientBalance)
	assert.ErrorIs(t, h.biller.Activate(ctx, "streamer", h.live.ID), ledger.ErrSelfAttribution)
	assert.ErrorIs(t, h.biller.Activate(ctx, "viewer", "missing"), live.ErrNotFound)

	_, err := h.ledger.Credit(ctx, "viewer", 100, model.KindRecharge, "")
	require.NoError(t, err)
	require.NoError(t, h.biller.Activate(ctx, "viewer", h.live.ID))
	assert.ErrorIs(t, h.biller.Activate(ctx, "viewer", h.live.ID), discrete.ErrAlreadyActive)

	_, err = h.lives.End(ctx, h.live.ID, "streamer")
	require.NoError(t, err)
	h.biller.StopLive(h.live.ID)
	assert.False(t, h.biller.Active("viewer", h.live.ID))
	assert.ErrorIs(t, h.biller.Activate(ctx, "viewer", h.live.ID), live.ErrNotActive)
}

func TestDeactivateStopsCharges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000, time.Hour)

	require.NoError(t, h.biller.Activate(ctx, "viewer", h.live.ID))
	assert.True(t, h.biller.Deactivate("viewer", h.live.ID))
	assert.False(t, h.biller.Deactivate("viewer", h.live.ID))

	kinds := []discrete.NoticeKind{h.next(t).Kind, h.next(t).Kind}
	assert.Equal(t, []discrete.NoticeKind{discrete.NoticeActivated, discrete.NoticeStopped}, kinds)

	bal, _ := h.ledger.Balance(ctx, "viewer")
	assert.Equal(t, int64(1000), bal, "no charge before the first interval elapses")
}

func TestBillingStopsWhenLiveEndedElsewhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000, 10*time.Millisecond)

	require.NoError(t, h.biller.Activate(ctx, "viewer", h.live.ID))
	assert.Equal(t, discrete.NoticeActivated, h.next(t).Kind)
	assert.Equal(t, discrete.NoticeCharged, h.next(t).Kind)

	// A service without this biller's end hook, as on another instance.
	other := live.NewService(h.store, 100)
	_, err := other.End(ctx, h.live.ID, "streamer")
	require.NoError(t, err)

	for {
		n := h.next(t)
		if n.Kind == discrete.NoticeStopped {
			break
		}
		require.Equal(t, discrete.NoticeCharged, n.Kind)
	}
	assert.False(t, h.biller.Active("viewer", h.live.ID))

	bal, err := h.ledger.Balance(ctx, "viewer")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	after, err := h.ledger.Balance(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, bal, after, "no charges after the live ended")
}
