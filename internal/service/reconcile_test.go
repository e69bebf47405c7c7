package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/zeddlyf/EyyBack/internal/model"
	"github.com/zeddlyf/EyyBack/internal/repo"
)

func TestTopUpCallback_PaidThenReplayed(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(300), "juan@example.com")
	assert.NoError(t, err)

	res, err := svc.HandleTopUpCallback(ctx, intent.ProviderID, "", "PAID")
	assert.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, model.StatusCompleted, res.Status)

	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(300)))

	// replay any number of times: same outcome, no further balance change
	for i := 0; i < 3; i++ {
		res, err = svc.HandleTopUpCallback(ctx, intent.ProviderID, "", "PAID")
		assert.NoError(t, err)
		assert.True(t, res.AlreadyProcessed)
	}
	bal, _ = svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(300)))
	hist, _ := svc.ListTransactions(ctx, w.ID, 1, 10)
	assert.EqualValues(t, 1, hist.Total, "replays must not append entries")
	assertInvariant(t, svc, ctx, w.ID)
}

func TestTopUpCallback_Expired(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(300), "juan@example.com")
	assert.NoError(t, err)

	res, err := svc.HandleTopUpCallback(ctx, intent.ProviderID, "", "EXPIRED")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)

	// funds never arrived, balance untouched
	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.IsZero())
	assertInvariant(t, svc, ctx, w.ID)
}

func TestTopUpCallback_FallsBackToReferenceID(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(100), "juan@example.com")
	assert.NoError(t, err)

	// unknown provider id, known reference id
	res, err := svc.HandleTopUpCallback(ctx, "inv_unknown", intent.ReferenceID, "PAID")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
}

func TestTopUpCallback_Orphan(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	_, err := svc.HandleTopUpCallback(ctx, "inv_ghost", "top_ghost", "PAID")
	assert.ErrorIs(t, err, repo.ErrEntryNotFound)
}

func TestTopUpCallback_UnknownStatus(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(100), "juan@example.com")
	assert.NoError(t, err)

	_, err = svc.HandleTopUpCallback(ctx, intent.ProviderID, "", "HOLD_MY_BEER")
	assert.ErrorIs(t, err, ErrUnknownCallbackStatus)

	// entry still pending, nothing applied
	entry, _ := svc.Repo().FindEntryByReference(ctx, intent.ReferenceID)
	assert.Equal(t, model.StatusPending, entry.Status)
}

func TestCashOutCallback_WrongPath(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(100), "juan@example.com")
	assert.NoError(t, err)

	// a top-up entry must not be finalized through the cash-out contract
	_, err = svc.HandleCashOutCallback(ctx, "", intent.ReferenceID, "COMPLETED")
	assert.Error(t, err)
}

func TestCashOutCallback_ReplayAfterFailure(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(500), model.TypeTopUp, "seed", "")
	assert.NoError(t, err)
	intent, err := svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(200), bankAccount())
	assert.NoError(t, err)

	_, err = svc.HandleCashOutCallback(ctx, intent.ProviderID, "", "FAILED")
	assert.NoError(t, err)

	// the compensating credit must not be applied twice
	for i := 0; i < 3; i++ {
		res, err := svc.HandleCashOutCallback(ctx, intent.ProviderID, "", "FAILED")
		assert.NoError(t, err)
		assert.True(t, res.AlreadyProcessed)
	}
	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))
	assertInvariant(t, svc, ctx, w.ID)
}
