package account_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/model"
	"github.com/susu3304/amanteslive/internal/store/memory"
)

func TestEnsureGrantsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := account.NewService(store, 1000)

	p, err := svc.Ensure(ctx, "u1", " ana ", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.Balance)
	assert.Equal(t, "ana", p.Username)

	// spend some, then log in again
	_, err = ledger.NewManager(store).Debit(ctx, model.Transaction{
		UserID:    "u1",
		CreatorID: "creator",
		Kind:      model.KindProduct,
		Gross:     300,
	})
	require.NoError(t, err)

	p, err = svc.Ensure(ctx, "u1", "ana", "")
	require.NoError(t, err)
	assert.Equal(t, int64(700), p.Balance)
}

func TestGetUnknown(t *testing.T) {
	svc := account.NewService(memory.New(), 1000)
	_, err := svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
