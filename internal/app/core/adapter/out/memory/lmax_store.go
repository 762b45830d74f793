package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-agency-ledger/pkg/wal"
)

// ErrStoreStopped 核心迴圈已停止
var ErrStoreStopped = errors.New("lmax store stopped")

// storeRequest 請求包裝channel，讓呼叫端可以等待結果
type storeRequest struct {
	run  func()
	Done chan struct{} // 讓呼叫端等這個 channel
}

// LMAXStore 單一 goroutine 持有所有帳戶狀態，所有操作透過輸送帶排隊執行
// 同一時間只有一個操作在執行，每個 primitive 因此天然是原子的
type LMAXStore struct {
	accounts accountTable
	// Write-Ahead Logging
	wal *wal.WAL
	// 輸送帶 負責接收請求
	requests chan *storeRequest
	// 迴圈結束後關閉
	stopped chan struct{}
	// Pool 減少 GC 壓力
	requestPool sync.Pool
}

// NewLMAXStore 建立一個新的 LMAXStore 實例，需呼叫 Start 後才能使用
//
// 參數:
//
//	accounts: 初始帳戶資料 (快照)
//	wal: Write-Ahead Log 實例，nil 代表不落地
//
// 回傳:
//
//	*LMAXStore: LMAXStore 實例
//	error: 初始化錯誤
func NewLMAXStore(accounts []domain.Account, wal *wal.WAL) (*LMAXStore, error) {
	store := &LMAXStore{
		accounts: newAccountTable(accounts),
		wal:      wal,
		requests: make(chan *storeRequest, 1000), // Buffer 1000
		stopped:  make(chan struct{}),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &storeRequest{
					Done: make(chan struct{}, 1),
				}
			},
		},
	}

	// 在啟動前先恢復資料
	if err := store.accounts.recoverFromWAL(wal); err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	return store, nil
}

// Start 啟動核心引擎 (非同步)，ctx 結束時處理完剩餘請求後停止
func (l *LMAXStore) Start(ctx context.Context) {
	go l.run(ctx)
}

// Done 核心迴圈結束 (剩餘請求已處理完) 後關閉
func (l *LMAXStore) Done() <-chan struct{} {
	return l.stopped
}

func (l *LMAXStore) run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.drain()
			return
		case req := <-l.requests:
			l.process(req)
		}
	}
}

func (l *LMAXStore) drain() {
	for {
		select {
		case req := <-l.requests:
			l.process(req)
		default:
			return
		}
	}
}

func (l *LMAXStore) process(req *storeRequest) {
	req.run()
	req.Done <- struct{}{}
}

// submit 放入輸送帶並等待執行完成
// 請求一旦進入輸送帶就一定會執行，呼叫端不會因 ctx 取消而提前離開
func (l *LMAXStore) submit(ctx context.Context, fn func()) error {
	req := l.requestPool.Get().(*storeRequest)
	req.run = fn

	select {
	case l.requests <- req:
	case <-l.stopped:
		l.requestPool.Put(req)
		return ErrStoreStopped
	case <-ctx.Done():
		l.requestPool.Put(req)
		return ctx.Err()
	}

	select {
	case <-req.Done:
	case <-l.stopped:
		// 迴圈已停止，但 drain 可能已處理過這個請求
		select {
		case <-req.Done:
		default:
			// 請求還留在輸送帶裡，不可放回 Pool
			return ErrStoreStopped
		}
	}
	req.run = nil
	l.requestPool.Put(req)
	return nil
}

// Insert 開戶
func (l *LMAXStore) Insert(ctx context.Context, account domain.Account) error {
	var opErr error
	err := l.submit(ctx, func() {
		mutation, err := l.accounts.planInsert(account)
		if err != nil {
			opErr = err
			return
		}
		if err := l.journal(mutation); err != nil {
			opErr = err
			return
		}
		l.accounts.apply(mutation)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Find 查詢帳戶
func (l *LMAXStore) Find(ctx context.Context, key domain.AccountKey) (account domain.Account, ok bool, err error) {
	err = l.submit(ctx, func() {
		account, ok = l.accounts.find(key)
	})
	return account, ok, err
}

// ConditionalIncrement 條件式增減餘額
// 輸送帶 -> 判斷 -> WAL -> Map Update -> Done
func (l *LMAXStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (account domain.Account, ok bool, err error) {
	var opErr error
	err = l.submit(ctx, func() {
		mutation, planned := l.accounts.planIncrement(key, predicate, delta)
		if !planned {
			return
		}
		if opErr = l.journal(mutation); opErr != nil {
			return
		}
		account, ok = l.accounts.apply(mutation)
	})
	if err != nil {
		return domain.Account{}, false, err
	}
	if opErr != nil {
		return domain.Account{}, false, opErr
	}
	return account, ok, nil
}

// Delete 銷戶
func (l *LMAXStore) Delete(ctx context.Context, key domain.AccountKey) (account domain.Account, ok bool, err error) {
	var opErr error
	err = l.submit(ctx, func() {
		mutation, planned := l.accounts.planDelete(key)
		if !planned {
			return
		}
		if opErr = l.journal(mutation); opErr != nil {
			return
		}
		account, ok = l.accounts.apply(mutation)
	})
	if err != nil {
		return domain.Account{}, false, err
	}
	if opErr != nil {
		return domain.Account{}, false, opErr
	}
	return account, ok, nil
}

// Count 分行帳戶數
func (l *LMAXStore) Count(ctx context.Context, agency int64) (n int64, err error) {
	err = l.submit(ctx, func() {
		n = l.accounts.count(agency)
	})
	return n, err
}

// AverageBalance 分行平均餘額 (最小單位)
func (l *LMAXStore) AverageBalance(ctx context.Context, agency int64) (avg decimal.Decimal, ok bool, err error) {
	err = l.submit(ctx, func() {
		avg, ok = l.accounts.average(agency)
	})
	return avg, ok, err
}

// journal 寫入 WAL (Critical Path)，只在核心迴圈內呼叫
func (l *LMAXStore) journal(mutation *domain.Mutation) error {
	if l.wal == nil {
		return nil
	}
	if err := l.wal.Append(mutation); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)
	}
	return nil
}

var _ usecase.AccountStore = (*LMAXStore)(nil)
