package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

// AccountStore 帳戶儲存的介面
// 每個方法對同一個 key 的並發呼叫都必須是原子的
// bool 為 false 代表「沒有結果」；error 只用於儲存層本身的失敗
type AccountStore interface {
	// Find 查詢帳戶，無副作用
	Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error)
	// ConditionalIncrement 原子地讀取餘額，若 predicate 成立則 balance += delta 並回傳更新後的帳戶
	// 帳戶不存在或 predicate 不成立時不做任何異動，回傳 false
	ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (domain.Account, bool, error)
	// Delete 原子地刪除並回傳帳戶
	Delete(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error)
	// Count 分行帳戶數
	Count(ctx context.Context, agency int64) (int64, error)
	// AverageBalance 分行平均餘額 (最小單位)；分行沒有帳戶時回傳 false
	AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, bool, error)
}

// Alarm 需要人工介入的告警通道
type Alarm interface {
	RaiseTransferInconsistency(ctx context.Context, anomaly domain.TransferAnomaly) error
}
