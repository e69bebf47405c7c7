package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zeddlyf/EyyBack/internal/metrics"
	"github.com/zeddlyf/EyyBack/internal/model"
	"github.com/zeddlyf/EyyBack/internal/repo"
)

// ErrUnknownCallbackStatus means the provider sent a status the processor
// does not recognize as either a paid or a failed signal.
var ErrUnknownCallbackStatus = errors.New("unknown callback status")

// CallbackResult says what a callback did. AlreadyProcessed deliveries are
// indistinguishable from first deliveries at the HTTP level but not in logs
// or metrics.
type CallbackResult struct {
	ReferenceID      string `json:"reference_id"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed"`
}

func paidSignal(status string) bool {
	switch strings.ToUpper(status) {
	case "PAID", "SETTLED", "COMPLETED", "SUCCEEDED":
		return true
	}
	return false
}

func failedSignal(status string) bool {
	switch strings.ToUpper(status) {
	case "EXPIRED", "FAILED", "STOPPED", "CANCELLED", "REFUSED":
		return true
	}
	return false
}

// HandleTopUpCallback applies a provider top-up callback exactly once.
// Lookup prefers the provider id and falls back to our reference id. A paid
// signal credits the balance atomically with the PENDING→COMPLETED flip; a
// failed signal flips to FAILED with no balance effect, since the funds
// never arrived.
func (s *WalletService) HandleTopUpCallback(ctx context.Context, providerID, referenceID, status string) (*CallbackResult, error) {
	entry, err := s.findEntry(ctx, providerID, referenceID)
	if err != nil {
		if errors.Is(err, repo.ErrEntryNotFound) {
			metrics.CallbacksOrphaned.WithLabelValues(model.TypeTopUp).Inc()
			s.log.Errorw("top-up callback matched no entry",
				"provider_id", providerID, "reference_id", referenceID, "status", status)
		}
		return nil, err
	}
	if entry.Type != model.TypeTopUp {
		return nil, fmt.Errorf("callback for %s entry %s on top-up path", entry.Type, entry.ReferenceID)
	}

	var delta decimal.Decimal
	var next string
	switch {
	case paidSignal(status):
		next, delta = model.StatusCompleted, entry.Amount
	case failedSignal(status):
		next, delta = model.StatusFailed, decimal.Zero
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallbackStatus, status)
	}

	return s.finalize(ctx, entry, next, delta)
}

// HandleCashOutCallback is the payout twin. COMPLETED is only a status flip,
// the hold already took the funds; FAILED restores the held amount in the
// same atomic step as the flip.
func (s *WalletService) HandleCashOutCallback(ctx context.Context, providerID, referenceID, status string) (*CallbackResult, error) {
	entry, err := s.findEntry(ctx, providerID, referenceID)
	if err != nil {
		if errors.Is(err, repo.ErrEntryNotFound) {
			metrics.CallbacksOrphaned.WithLabelValues(model.TypeCashOut).Inc()
			s.log.Errorw("cash-out callback matched no entry",
				"provider_id", providerID, "reference_id", referenceID, "status", status)
		}
		return nil, err
	}
	if entry.Type != model.TypeCashOut {
		return nil, fmt.Errorf("callback for %s entry %s on cash-out path", entry.Type, entry.ReferenceID)
	}

	var delta decimal.Decimal
	var next string
	switch {
	case paidSignal(status):
		next, delta = model.StatusCompleted, decimal.Zero
	case failedSignal(status):
		next, delta = model.StatusFailed, entry.Amount
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallbackStatus, status)
	}

	return s.finalize(ctx, entry, next, delta)
}

func (s *WalletService) findEntry(ctx context.Context, providerID, referenceID string) (*model.Transaction, error) {
	if providerID != "" {
		entry, err := s.repo.FindEntryByProvider(ctx, providerID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, repo.ErrEntryNotFound) {
			return nil, err
		}
	}
	if referenceID == "" {
		return nil, repo.ErrEntryNotFound
	}
	return s.repo.FindEntryByReference(ctx, referenceID)
}

func (s *WalletService) finalize(ctx context.Context, entry *model.Transaction, next string, delta decimal.Decimal) (*CallbackResult, error) {
	if entry.Terminal() {
		metrics.CallbacksDuplicate.WithLabelValues(entry.Type).Inc()
		s.log.Infow("callback replayed for terminal entry",
			"reference_id", entry.ReferenceID, "status", entry.Status)
		return &CallbackResult{ReferenceID: entry.ReferenceID, Status: entry.Status, AlreadyProcessed: true}, nil
	}
	_, err := s.repo.FinalizeEntry(ctx, entry.ID, model.StatusPending, next, delta)
	if err != nil {
		// A concurrent delivery won the conditional update. Same outcome as
		// the terminal-entry path above; report the status the winner wrote,
		// not the one this delivery carried.
		if errors.Is(err, repo.ErrStaleState) {
			metrics.CallbacksDuplicate.WithLabelValues(entry.Type).Inc()
			status := next
			if current, ferr := s.repo.FindEntryByReference(ctx, entry.ReferenceID); ferr == nil {
				status = current.Status
			}
			s.log.Infow("callback lost finalize race",
				"reference_id", entry.ReferenceID, "status", status)
			return &CallbackResult{ReferenceID: entry.ReferenceID, Status: status, AlreadyProcessed: true}, nil
		}
		return nil, err
	}
	metrics.CallbacksApplied.WithLabelValues(entry.Type, next).Inc()
	s.log.Infow("callback applied",
		"reference_id", entry.ReferenceID, "type", entry.Type, "status", next)
	return &CallbackResult{ReferenceID: entry.ReferenceID, Status: next}, nil
}
