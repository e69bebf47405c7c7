package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zeddlyf/EyyBack/internal/config"
	"github.com/zeddlyf/EyyBack/internal/model"
	"github.com/zeddlyf/EyyBack/internal/provider"
	"github.com/zeddlyf/EyyBack/internal/repo"
)

// fakeProvider stands in for the payment provider at the client boundary.
// Confirmation never happens here; tests drive it through the callback path
// like the real provider would.
type fakeProvider struct {
	topUpErr  error
	payoutErr error
}

func (f *fakeProvider) CreateTopUpRequest(_ context.Context, ref string, _ decimal.Decimal, _, _ string) (*provider.TopUpRequest, error) {
	if f.topUpErr != nil {
		return nil, f.topUpErr
	}
	return &provider.TopUpRequest{ProviderID: "inv_" + ref, PaymentURL: "https://pay.invalid/" + ref}, nil
}

func (f *fakeProvider) CreatePayout(_ context.Context, ref string, _ decimal.Decimal, _ provider.BankAccount) (*provider.Payout, error) {
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &provider.Payout{ProviderID: "pay_" + ref, ReferenceID: ref}, nil
}

func testPolicy() config.WalletConfig {
	return config.WalletConfig{Currency: "PHP", MinCashOut: "100"}
}

func newTestService(t *testing.T, policy config.WalletConfig) (*WalletService, *fakeProvider, context.Context) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.OutboxEvent{}))

	rdb, _ := redismock.NewClientMock()
	log := zap.NewNop().Sugar()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	fp := &fakeProvider{}
	return NewWalletService(repository, fp, policy, log), fp, context.Background()
}

// assertInvariant re-derives the balance from the log: completed credits
// minus completed debits minus unresolved cash-out holds.
func assertInvariant(t *testing.T, svc *WalletService, ctx context.Context, walletID uint64) {
	t.Helper()
	rows, _, err := svc.Repo().ListEntries(ctx, walletID, 1, 1000)
	assert.NoError(t, err)
	sum := decimal.Zero
	for i := range rows {
		e := &rows[i]
		switch {
		case e.Status == model.StatusCompleted:
			sum = sum.Add(e.EffectiveDelta())
		case e.Status == model.StatusPending && e.Type == model.TypeCashOut:
			sum = sum.Sub(e.Amount)
		}
	}
	w, err := svc.Repo().GetWallet(ctx, walletID)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(sum), "balance %s != ledger sum %s", w.Balance, sum)
}

func bankAccount() provider.BankAccount {
	return provider.BankAccount{BankCode: "BPI", AccountNumber: "0012345678", AccountHolderName: "Juan Dela Cruz"}
}

func TestCreateWallet_RegistrationBonus(t *testing.T) {
	policy := testPolicy()
	policy.RegistrationBonus = "50"
	svc, _, ctx := newTestService(t, policy)

	w, err := svc.CreateWallet(ctx, 11)
	assert.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "PHP", w.Currency)
	assert.NotEmpty(t, w.ReferenceID)

	hist, err := svc.ListTransactions(ctx, w.ID, 1, 10)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, hist.Total)
	assert.Equal(t, model.TypeTopUp, hist.Items[0].Type)
	assert.Equal(t, model.StatusCompleted, hist.Items[0].Status)

	// one wallet per user
	_, err = svc.CreateWallet(ctx, 11)
	assert.ErrorIs(t, err, repo.ErrWalletExists)
	assertInvariant(t, svc, ctx, w.ID)
}

func TestWalletByUser_NeverCreates(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	_, err := svc.WalletByUser(ctx, 404)
	assert.ErrorIs(t, err, repo.ErrWalletNotFound)
}

func TestCredit_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)

	_, _, err := svc.Credit(ctx, w.ID, decimal.Zero, model.TypeTopUp, "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = svc.Credit(ctx, w.ID, decimal.NewFromInt(-5), model.TypeTopUp, "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = svc.Credit(ctx, w.ID, decimal.NewFromInt(5), model.TypePayment, "", "")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(100), model.TypeTopUp, "seed", "")
	assert.NoError(t, err)

	_, _, err = svc.Debit(ctx, w.ID, decimal.NewFromInt(130), "ride fare", "")
	assert.ErrorIs(t, err, repo.ErrInsufficientBalance)

	bal, err := svc.GetBalance(ctx, w.ID)
	assert.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))
}

// End to end: top up 1000, pay a 250 fare, cash out the remaining 750, then
// the payout fails and the hold comes back.
func TestWallet_FareAndCashOutScenario(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 21)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(1000), model.TypeTopUp, "confirmed top-up", "")
	assert.NoError(t, err)

	updated, entry, err := svc.Debit(ctx, w.ID, decimal.NewFromInt(250), "ride fare", "")
	assert.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(750)))
	assert.Equal(t, model.TypePayment, entry.Type)
	assert.Equal(t, model.StatusCompleted, entry.Status)
	assertInvariant(t, svc, ctx, w.ID)

	intent, err := svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(750), bankAccount())
	assert.NoError(t, err)
	assert.True(t, intent.Balance.IsZero())
	assertInvariant(t, svc, ctx, w.ID)

	res, err := svc.HandleCashOutCallback(ctx, "", intent.ReferenceID, "FAILED")
	assert.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)

	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(750)))
	failed, err := svc.Repo().FindEntryByReference(ctx, intent.ReferenceID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assertInvariant(t, svc, ctx, w.ID)
}

func TestReserveForCashout_BelowMinimum(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(500), model.TypeTopUp, "seed", "")
	assert.NoError(t, err)

	_, err = svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(50), bankAccount())
	assert.ErrorIs(t, err, ErrBelowMinimum)

	// no hold taken, no entry created
	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))
	hist, _ := svc.ListTransactions(ctx, w.ID, 1, 10)
	assert.EqualValues(t, 1, hist.Total)
}

func TestReserveForCashout_ProviderFailureTakesNoHold(t *testing.T) {
	svc, fp, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(500), model.TypeTopUp, "seed", "")
	assert.NoError(t, err)

	fp.payoutErr = errors.New("provider timeout")
	_, err = svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(200), bankAccount())
	assert.Error(t, err)

	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))
	hist, _ := svc.ListTransactions(ctx, w.ID, 1, 10)
	assert.EqualValues(t, 1, hist.Total)
	assertInvariant(t, svc, ctx, w.ID)
}

// Hold/release round trip: a failed payout restores the hold, a completed
// one on a fresh reservation keeps the funds gone.
func TestReserveForCashout_HoldReleaseRoundTrip(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)
	_, _, err := svc.Credit(ctx, w.ID, decimal.NewFromInt(500), model.TypeTopUp, "seed", "")
	assert.NoError(t, err)

	first, err := svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(100), bankAccount())
	assert.NoError(t, err)
	assert.True(t, first.Balance.Equal(decimal.NewFromInt(400)))

	_, err = svc.HandleCashOutCallback(ctx, "", first.ReferenceID, "FAILED")
	assert.NoError(t, err)
	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))

	second, err := svc.ReserveForCashout(ctx, w.ID, decimal.NewFromInt(100), bankAccount())
	assert.NoError(t, err)
	_, err = svc.HandleCashOutCallback(ctx, "", second.ReferenceID, "COMPLETED")
	assert.NoError(t, err)
	bal, _ = svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.Equal(decimal.NewFromInt(400)))
	assertInvariant(t, svc, ctx, w.ID)
}

func TestInitiateTopUp_PendingUntilCallback(t *testing.T) {
	svc, _, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)

	intent, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(300), "juan@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "inv_"+intent.ReferenceID, intent.ProviderID)
	assert.Contains(t, intent.PaymentURL, intent.ReferenceID)

	// pending top-up does not move the balance
	bal, _ := svc.GetBalance(ctx, w.ID)
	assert.True(t, bal.IsZero())

	entry, err := svc.Repo().FindEntryByReference(ctx, intent.ReferenceID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, entry.Status)
	assertInvariant(t, svc, ctx, w.ID)
}

func TestInitiateTopUp_ProviderFailureLeavesNoEntry(t *testing.T) {
	svc, fp, ctx := newTestService(t, testPolicy())
	w, _ := svc.CreateWallet(ctx, 1)

	fp.topUpErr = errors.New("provider unreachable")
	_, err := svc.InitiateTopUp(ctx, w.ID, decimal.NewFromInt(300), "juan@example.com")
	assert.Error(t, err)

	hist, _ := svc.ListTransactions(ctx, w.ID, 1, 10)
	assert.EqualValues(t, 0, hist.Total)
}
