package service

import (
	"context"

	"github.com/zeddlyf/EyyBack/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryPage is one page of a wallet's ledger, newest first.
type HistoryPage struct {
	Items    []model.Transaction `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int64               `json:"total"`
}

// ListTransactions reads a paginated, reverse-chronological view of the
// wallet's entries. Insertion order breaks same-timestamp ties, so repeated
// reads always agree.
func (s *WalletService) ListTransactions(ctx context.Context, walletID uint64, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := s.repo.ListEntries(ctx, walletID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}
