package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zeddlyf/EyyBack/internal/model"
)

// Ledger store errors. Typed so callers map them without string matching.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists for user")
	ErrWalletInactive      = errors.New("wallet is inactive")
	ErrEntryNotFound       = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("duplicate reference id")
	ErrStaleState          = errors.New("stale wallet state")
)

// RepositoryInterface restricts Repo methods (unit-test mocking seam).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetWallet(ctx context.Context, walletID uint64) (*model.Wallet, error)
	GetWalletByUser(ctx context.Context, userID uint64) (*model.Wallet, error)
	CreateWallet(ctx context.Context, w *model.Wallet) error
	ApplyEntry(ctx context.Context, walletID uint64, minBalance, delta decimal.Decimal, entry *model.Transaction) (*model.Wallet, error)
	FinalizeEntry(ctx context.Context, entryID uint64, expectedStatus, newStatus string, delta decimal.Decimal) (*model.Wallet, error)
	FindEntryByReference(ctx context.Context, referenceID string) (*model.Transaction, error)
	FindEntryByProvider(ctx context.Context, providerID string) (*model.Transaction, error)
	ListEntries(ctx context.Context, walletID uint64, page, pageSize int) ([]model.Transaction, int64, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface on Postgres + Redis + Kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWallet fetches by primary key.
func (r *Repository) GetWallet(ctx context.Context, walletID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).First(&w, walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletByUser fetches the single wallet owned by a user. Lookup never
// creates; wallet creation is its own explicit operation.
func (r *Repository) GetWalletByUser(ctx context.Context, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a new wallet; the unique index on user_id enforces
// the one-wallet-per-user invariant under concurrent creation. A duplicate
// key with no wallet for the user means the reference_id index fired
// instead, which is a generator collision, not a duplicate user.
func (r *Repository) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		if isDuplicateKey(err) {
			var count int64
			if cErr := r.db.WithContext(ctx).Model(&model.Wallet{}).
				Where("user_id = ?", w.UserID).Count(&count).Error; cErr == nil && count == 0 {
				return ErrDuplicateReference
			}
			return ErrWalletExists
		}
		return err
	}
	return nil
}

// lockWallet takes the row lock that serializes all mutation on one wallet.
// sqlite (tests) has no FOR UPDATE; there the version guard plus immediate
// transactions do the serializing.
func (r *Repository) lockWallet(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w model.Wallet
	if err := q.Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// updateBalance applies the new balance with the optimistic version guard.
// The row lock already serializes writers; the version check is the second
// line against a write that slipped past a stale read.
func (r *Repository) updateBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// ApplyEntry is the atomic primitive every balance-affecting operation goes
// through: inside one database transaction it checks the balance predicate
// (balance >= minBalance), applies the delta, and appends the entry. The
// global unique index on reference_id rejects duplicates at insert time.
func (r *Repository) ApplyEntry(ctx context.Context, walletID uint64, minBalance, delta decimal.Decimal, entry *model.Transaction) (*model.Wallet, error) {
	var out model.Wallet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := r.lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if !w.IsActive {
			return ErrWalletInactive
		}
		if w.Balance.LessThan(minBalance) {
			return ErrInsufficientBalance
		}
		newBal := w.Balance.Add(delta)
		if newBal.IsNegative() {
			return ErrInsufficientBalance
		}
		if err := r.updateBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
			return err
		}
		entry.WalletID = w.ID
		entry.BalanceBefore = w.Balance
		entry.BalanceAfter = newBal
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateReference
			}
			return err
		}
		evt, err := entryEvent("TransactionCreated", w.ID, entry, newBal)
		if err != nil {
			return err
		}
		if err := r.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		out = *w
		out.Balance = newBal
		out.Version = w.Version + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.CacheBalance(ctx, out.ID, out.Balance); err != nil {
		r.log.Warnf("cache balance wallet=%d: %v", out.ID, err)
	}
	return &out, nil
}

// FinalizeEntry moves a PENDING entry to a terminal status and applies the
// balance delta atomically with the flip. The conditional UPDATE on the
// current status is what makes concurrent callbacks safe: the second one
// matches zero rows and gets ErrStaleState instead of a double apply.
func (r *Repository) FinalizeEntry(ctx context.Context, entryID uint64, expectedStatus, newStatus string, delta decimal.Decimal) (*model.Wallet, error) {
	var out model.Wallet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e model.Transaction
		if err := tx.WithContext(ctx).First(&e, entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		w, err := r.lockWallet(ctx, tx, e.WalletID)
		if err != nil {
			return err
		}
		res := tx.WithContext(ctx).
			Model(&model.Transaction{}).
			Where("id = ? AND status = ?", entryID, expectedStatus).
			Updates(map[string]interface{}{"status": newStatus, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		newBal := w.Balance
		if !delta.IsZero() {
			newBal = w.Balance.Add(delta)
			if newBal.IsNegative() {
				return fmt.Errorf("finalize entry %d would take wallet %d negative", entryID, w.ID)
			}
			if err := r.updateBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
				return err
			}
		}
		e.Status = newStatus
		evt, err := entryEvent("TransactionFinalized", w.ID, &e, newBal)
		if err != nil {
			return err
		}
		if err := r.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		out = *w
		out.Balance = newBal
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.CacheBalance(ctx, out.ID, out.Balance); err != nil {
		r.log.Warnf("cache balance wallet=%d: %v", out.ID, err)
	}
	return &out, nil
}

// FindEntryByReference looks an entry up by its globally unique reference id.
func (r *Repository) FindEntryByReference(ctx context.Context, referenceID string) (*model.Transaction, error) {
	var e model.Transaction
	if err := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindEntryByProvider looks an entry up by the provider-side id.
func (r *Repository) FindEntryByProvider(ctx context.Context, providerID string) (*model.Transaction, error) {
	var e model.Transaction
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListEntries returns one page of a wallet's history, newest first. Ties on
// created_at fall back to the insertion id so the order is stable across
// repeated reads.
func (r *Repository) ListEntries(ctx context.Context, walletID uint64, page, pageSize int) ([]model.Transaction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("wallet_id = ?", walletID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []model.Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, fmt.Sprintf("balance:%d", walletID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

func entryEvent(eventType string, walletID uint64, e *model.Transaction, balance decimal.Decimal) (*model.OutboxEvent, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"wallet_id":    walletID,
		"reference_id": e.ReferenceID,
		"type":         e.Type,
		"status":       e.Status,
		"amount":       e.Amount,
		"balance":      balance,
	})
	if err != nil {
		return nil, err
	}
	return &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: walletID,
		EventType:   eventType,
		Payload:     string(payload),
	}, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
