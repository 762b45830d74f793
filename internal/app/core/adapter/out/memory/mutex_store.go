package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-agency-ledger/pkg/wal"
)

// MutexStore 是一個使用 Mutex 實現的帳戶儲存
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	mu: RWMutex 用於保護帳戶資料，寫入操作在同一把鎖內完成「判斷 -> WAL -> 套用」
//	wal: Write-Ahead Log 實例 (可為 nil)
type MutexStore struct {
	accounts accountTable
	mu       sync.RWMutex
	// Write-Ahead Logging
	wal *wal.WAL
}

// NewMutexStore 建立一個新的 MutexStore 實例
//
// 參數:
//
//	accounts: 初始帳戶資料 (快照)
//	wal: Write-Ahead Log 實例，nil 代表不落地
//
// 回傳:
//
//	*MutexStore: MutexStore 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexStore(accounts []domain.Account, wal *wal.WAL) (*MutexStore, error) {
	store := &MutexStore{
		accounts: newAccountTable(accounts),
		wal:      wal,
	}
	if err := store.accounts.recoverFromWAL(wal); err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	return store, nil
}

// Insert 開戶
func (m *MutexStore) Insert(ctx context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutation, err := m.accounts.planInsert(account)
	if err != nil {
		return err
	}
	if err := m.journal(mutation); err != nil {
		return err
	}
	m.accounts.apply(mutation)
	return nil
}

// Find 查詢帳戶
func (m *MutexStore) Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts.find(key)
	return a, ok, nil
}

// ConditionalIncrement 條件式增減餘額
//
// 參數:
//
//	ctx: 上下文
//	key: 帳戶
//	predicate: 餘額條件
//	delta: 增減量
//
// 回傳:
//
//	domain.Account: 更新後帳戶
//	bool: 是否有套用
//	error: WAL 寫入失敗
func (m *MutexStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutation, ok := m.accounts.planIncrement(key, predicate, delta)
	if !ok {
		return domain.Account{}, false, nil
	}
	if err := m.journal(mutation); err != nil {
		return domain.Account{}, false, err
	}
	a, ok := m.accounts.apply(mutation)
	return a, ok, nil
}

// Delete 銷戶
func (m *MutexStore) Delete(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutation, ok := m.accounts.planDelete(key)
	if !ok {
		return domain.Account{}, false, nil
	}
	if err := m.journal(mutation); err != nil {
		return domain.Account{}, false, err
	}
	a, ok := m.accounts.apply(mutation)
	return a, ok, nil
}

// Count 分行帳戶數
func (m *MutexStore) Count(ctx context.Context, agency int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts.count(agency), nil
}

// AverageBalance 分行平均餘額 (最小單位)
func (m *MutexStore) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	avg, ok := m.accounts.average(agency)
	return avg, ok, nil
}

// journal 寫入 WAL 並刷入硬碟 (Critical Path)，必須在持有寫鎖時呼叫
func (m *MutexStore) journal(mutation *domain.Mutation) error {
	if m.wal == nil {
		return nil
	}
	if err := m.wal.Append(mutation); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)
	}
	return nil
}

var _ usecase.AccountStore = (*MutexStore)(nil)
