package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeddlyf/EyyBack/internal/config"
	"github.com/zeddlyf/EyyBack/internal/model"
	"github.com/zeddlyf/EyyBack/internal/provider"
	"github.com/zeddlyf/EyyBack/internal/refid"
	"github.com/zeddlyf/EyyBack/internal/repo"
)

// Engine-level errors.
var (
	// ErrInvalidAmount means non-positive amount passed.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrBelowMinimum means a cash-out under the policy floor.
	ErrBelowMinimum = errors.New("amount below cash-out minimum")
	// ErrUnsupportedType means a credit with a debit-direction type.
	ErrUnsupportedType = errors.New("unsupported entry type for operation")
)

// WalletService is the transaction engine: the sole mutator of wallet state.
// Every operation is one atomic store call; there is no in-process lock and
// no read-modify-write outside the store's transaction.
type WalletService struct {
	repo     repo.RepositoryInterface
	provider provider.Client
	policy   config.WalletConfig
	log      *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, p provider.Client, policy config.WalletConfig, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, provider: p, policy: policy, log: logger}
}

// TopUpIntent is handed back to the caller after a top-up is initiated: the
// ledger reference, the provider's id, and where the user completes payment.
type TopUpIntent struct {
	ReferenceID string          `json:"reference_id"`
	ProviderID  string          `json:"provider_id"`
	PaymentURL  string          `json:"payment_url"`
	Amount      decimal.Decimal `json:"amount"`
}

// CashOutIntent identifies an in-flight payout whose funds are already held.
type CashOutIntent struct {
	ReferenceID string          `json:"reference_id"`
	ProviderID  string          `json:"provider_id"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// CreateWallet provisions the single wallet a user owns, crediting the
// configured registration bonus when there is one. Duplicate creation is
// rejected by the store, not by a lookup race.
func (s *WalletService) CreateWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	w := &model.Wallet{
		UserID:      userID,
		Balance:     decimal.Zero,
		Currency:    s.policy.Currency,
		ReferenceID: refid.Generate("wal"),
		IsActive:    true,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		// Same retry-once policy as entries: a collision on the wallet's own
		// reference index gets one fresh id, anything else goes up.
		if !errors.Is(err, repo.ErrDuplicateReference) {
			return nil, err
		}
		stale := w.ReferenceID
		w.ReferenceID = refid.Generate("wal")
		s.log.Warnf("reference collision %s, retrying as %s", stale, w.ReferenceID)
		if err := s.repo.CreateWallet(ctx, w); err != nil {
			return nil, err
		}
	}
	if bonus := s.policy.RegistrationBonusAmount(); bonus.IsPositive() {
		updated, _, err := s.Credit(ctx, w.ID, bonus, model.TypeTopUp, "registration bonus", "")
		if err != nil {
			// Wallet exists; the bonus can be re-credited out of band.
			s.log.Errorf("registration bonus wallet=%d: %v", w.ID, err)
			return w, nil
		}
		return updated, nil
	}
	return w, nil
}

// WalletByUser resolves a user's wallet. Never creates one.
func (s *WalletService) WalletByUser(ctx context.Context, userID uint64) (*model.Wallet, error) {
	return s.repo.GetWalletByUser(ctx, userID)
}

// GetBalance returns current wallet balance, cache first.
func (s *WalletService) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	if bal, err := s.repo.GetCachedBalance(ctx, walletID); err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, walletID, w.Balance); err != nil {
		s.log.Warnf("cache balance wallet=%d: %v", walletID, err)
	}
	return w.Balance, nil
}

// Credit appends a COMPLETED credit entry and increments the balance. Used
// for confirmed income: ride earnings, refunds, pre-confirmed top-ups.
func (s *WalletService) Credit(ctx context.Context, walletID uint64, amount decimal.Decimal, entryType, description, metadata string) (*model.Wallet, *model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidAmount
	}
	if entryType != model.TypeTopUp && entryType != model.TypeRefund {
		return nil, nil, ErrUnsupportedType
	}
	entry := &model.Transaction{
		Type:        entryType,
		Status:      model.StatusCompleted,
		Amount:      amount,
		ReferenceID: refid.Generate("txn"),
		Description: description,
		Metadata:    metadata,
	}
	w, err := s.applyWithRetry(ctx, walletID, decimal.Zero, amount, entry)
	if err != nil {
		return nil, nil, err
	}
	return w, entry, nil
}

// Debit appends a COMPLETED PAYMENT entry and decrements the balance; the
// store's predicate, not a prior read, decides whether funds suffice.
func (s *WalletService) Debit(ctx context.Context, walletID uint64, amount decimal.Decimal, description, metadata string) (*model.Wallet, *model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidAmount
	}
	entry := &model.Transaction{
		Type:        model.TypePayment,
		Status:      model.StatusCompleted,
		Amount:      amount,
		ReferenceID: refid.Generate("txn"),
		Description: description,
		Metadata:    metadata,
	}
	w, err := s.applyWithRetry(ctx, walletID, amount, amount.Neg(), entry)
	if err != nil {
		return nil, nil, err
	}
	return w, entry, nil
}

// InitiateTopUp opens a provider invoice first, then records the PENDING
// entry. The balance does not move until the paid callback arrives. A
// provider timeout leaves no trace in the ledger.
func (s *WalletService) InitiateTopUp(ctx context.Context, walletID uint64, amount decimal.Decimal, payerEmail string) (*TopUpIntent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	w, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	ref := refid.Generate("top")
	inv, err := s.provider.CreateTopUpRequest(ctx, ref, amount, w.Currency, payerEmail)
	if err != nil {
		return nil, fmt.Errorf("provider top-up request: %w", err)
	}
	entry := &model.Transaction{
		Type:        model.TypeTopUp,
		Status:      model.StatusPending,
		Amount:      amount,
		ReferenceID: ref,
		ProviderID:  &inv.ProviderID,
		Description: "wallet top-up",
	}
	// The reference already reached the provider, so a duplicate here cannot
	// be retried under a new id; it surfaces as an internal error instead.
	if _, err := s.repo.ApplyEntry(ctx, walletID, decimal.Zero, decimal.Zero, entry); err != nil {
		return nil, err
	}
	return &TopUpIntent{ReferenceID: ref, ProviderID: inv.ProviderID, PaymentURL: inv.PaymentURL, Amount: amount}, nil
}

// ReserveForCashout submits the payout first and only then takes the hold:
// balance is decremented the moment the PENDING CASHOUT entry lands, so the
// amount cannot be spent while the payout is in flight. A provider timeout
// happens before any mutation and leaves the wallet untouched.
func (s *WalletService) ReserveForCashout(ctx context.Context, walletID uint64, amount decimal.Decimal, bank provider.BankAccount) (*CashOutIntent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.policy.MinCashOutAmount()) {
		return nil, ErrBelowMinimum
	}
	w, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	// Fail fast before bothering the provider. The authoritative check is
	// still the store predicate at hold time.
	if w.Balance.LessThan(amount) {
		return nil, repo.ErrInsufficientBalance
	}
	ref := refid.Generate("co")
	payout, err := s.provider.CreatePayout(ctx, ref, amount, bank)
	if err != nil {
		return nil, fmt.Errorf("provider payout request: %w", err)
	}
	entry := &model.Transaction{
		Type:        model.TypeCashOut,
		Status:      model.StatusPending,
		Amount:      amount,
		ReferenceID: ref,
		ProviderID:  &payout.ProviderID,
		Description: "cash-out to " + bank.BankCode,
	}
	updated, err := s.repo.ApplyEntry(ctx, walletID, amount, amount.Neg(), entry)
	if err != nil {
		// The payout was accepted but the hold lost a race. The callback for
		// this reference will find no PENDING entry and raise the orphan
		// alarm; flag it loudly here too.
		s.log.Errorf("cash-out hold failed after payout accepted wallet=%d ref=%s: %v", walletID, ref, err)
		return nil, err
	}
	return &CashOutIntent{ReferenceID: ref, ProviderID: payout.ProviderID, Amount: amount, Balance: updated.Balance}, nil
}

// applyWithRetry retries exactly once with a fresh reference id when the
// unique index rejects the generated one. A second rejection means the
// generator is defective and the error goes up as-is.
func (s *WalletService) applyWithRetry(ctx context.Context, walletID uint64, minBalance, delta decimal.Decimal, entry *model.Transaction) (*model.Wallet, error) {
	w, err := s.repo.ApplyEntry(ctx, walletID, minBalance, delta, entry)
	if !errors.Is(err, repo.ErrDuplicateReference) {
		return w, err
	}
	stale := entry.ReferenceID
	entry.ReferenceID = refid.Generate("txn")
	s.log.Warnf("reference collision %s, retrying as %s", stale, entry.ReferenceID)
	return s.repo.ApplyEntry(ctx, walletID, minBalance, delta, entry)
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
