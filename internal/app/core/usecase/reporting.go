package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

// ReportingService 唯讀的統計查詢
type ReportingService struct {
	store AccountStore
}

// NewReportingService 建立 ReportingService
func NewReportingService(store AccountStore) *ReportingService {
	return &ReportingService{
		store: store,
	}
}

// AverageBalance 分行平均餘額 (單位)
// 分行沒有帳戶時回傳 ErrEmptyAgency，與平均為 0 的情況區分
func (r *ReportingService) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, error) {
	if agency <= 0 {
		return decimal.Zero, domain.ErrInvalidAccountKey
	}
	avg, ok, err := r.store.AverageBalance(ctx, agency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("average balance agency %d: %w", agency, err)
	}
	if !ok {
		return decimal.Zero, domain.ErrEmptyAgency
	}
	return domain.MinorToUnits(avg), nil
}

// AccountCount 分行帳戶數
func (r *ReportingService) AccountCount(ctx context.Context, agency int64) (int64, error) {
	if agency <= 0 {
		return 0, domain.ErrInvalidAccountKey
	}
	n, err := r.store.Count(ctx, agency)
	if err != nil {
		return 0, fmt.Errorf("count agency %d: %w", agency, err)
	}
	return n, nil
}
