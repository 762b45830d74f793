package usecase_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

var errStoreDown = errors.New("store unavailable")

// faultStore 包裝真實 Store，可攔截 ConditionalIncrement 以模擬並發刪除或儲存層故障
type faultStore struct {
	usecase.AccountStore
	calls     atomic.Int64
	increment func(ctx context.Context, key domain.AccountKey, delta domain.Amount) (override bool, err error)
}

func (f *faultStore) Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	f.calls.Add(1)
	return f.AccountStore.Find(ctx, key)
}

func (f *faultStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, p domain.Predicate, delta domain.Amount) (domain.Account, bool, error) {
	f.calls.Add(1)
	if f.increment != nil {
		if override, err := f.increment(ctx, key, delta); override {
			return domain.Account{}, false, err
		}
	}
	return f.AccountStore.ConditionalIncrement(ctx, key, p, delta)
}

type recordingAlarm struct {
	mu        sync.Mutex
	anomalies []domain.TransferAnomaly
}

func (r *recordingAlarm) RaiseTransferInconsistency(_ context.Context, a domain.TransferAnomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
	return nil
}

func seed() []domain.Account {
	return []domain.Account{
		{Agency: 1, Number: 100, OwnerName: "Ana", Balance: domain.Units(500)},
		{Agency: 1, Number: 200, OwnerName: "Bruno", Balance: domain.Units(100)},
		{Agency: 2, Number: 300, OwnerName: "Carla", Balance: domain.Units(50)},
	}
}

func newStore(t *testing.T, accounts []domain.Account) *memory.MutexStore {
	t.Helper()
	s, err := memory.NewMutexStore(accounts, nil)
	require.NoError(t, err)
	return s
}

func balanceOf(t *testing.T, s usecase.AccountStore, agency, number int64) domain.Amount {
	t.Helper()
	a, ok, err := s.Find(context.Background(), domain.AccountKey{Agency: agency, Number: number})
	require.NoError(t, err)
	require.True(t, ok)
	return a.Balance
}

func TestGetBalance(t *testing.T) {
	engine := usecase.NewLedgerEngine(newStore(t, seed()))
	ctx := context.Background()

	b, err := engine.GetBalance(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(500), b)

	again, err := engine.GetBalance(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, b, again)

	_, err = engine.GetBalance(ctx, 1, 999)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = engine.GetBalance(ctx, 0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidAccountKey)
}

func TestDeposit(t *testing.T) {
	store := newStore(t, seed())
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	b, err := engine.Deposit(ctx, 1, 200, domain.Units(25))
	require.NoError(t, err)
	assert.Equal(t, domain.Units(125), b)

	_, err = engine.Deposit(ctx, 1, 999, domain.Units(25))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = engine.Deposit(ctx, 1, 200, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, domain.Units(125), balanceOf(t, store, 1, 200))
}

func TestDeposit_RefusesBalanceOverflow(t *testing.T) {
	store := newStore(t, seed())
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	huge, err := domain.ParseAmount("92233720368547758.07")
	require.NoError(t, err)

	_, err = engine.Deposit(ctx, 1, 100, huge)
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	assert.Equal(t, domain.Units(500), balanceOf(t, store, 1, 100))

	// 剛好到上限仍可入帳
	b, err := engine.Deposit(ctx, 1, 100, domain.MaxBalance-domain.Units(500))
	require.NoError(t, err)
	assert.Equal(t, domain.MaxBalance, b)

	_, err = engine.Deposit(ctx, 1, 100, 1)
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	assert.Equal(t, domain.MaxBalance, balanceOf(t, store, 1, 100))
}

func TestWithdraw_Scenario(t *testing.T) {
	store := newStore(t, seed())
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	b, err := engine.Withdraw(ctx, 1, 100, domain.Units(50))
	require.NoError(t, err)
	assert.Equal(t, domain.Units(449), b)

	_, err = engine.Withdraw(ctx, 1, 100, domain.Units(500))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.Units(449), balanceOf(t, store, 1, 100))

	// 剛好足夠支付金額 + 手續費
	b, err = engine.Withdraw(ctx, 1, 100, domain.Units(448))
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), b)

	_, err = engine.Withdraw(ctx, 3, 1, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWithdraw_VanishedBetweenChecksReportsNotFound(t *testing.T) {
	base := newStore(t, seed())
	store := &faultStore{AccountStore: base}
	store.increment = func(ctx context.Context, key domain.AccountKey, _ domain.Amount) (bool, error) {
		// 模擬存在檢查之後，帳戶被並發銷戶
		_, _, err := base.Delete(ctx, key)
		return false, err
	}
	engine := usecase.NewLedgerEngine(store)

	_, err := engine.Withdraw(context.Background(), 1, 100, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestInvalidAmountNeverTouchesStore(t *testing.T) {
	store := &faultStore{AccountStore: newStore(t, seed())}
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	_, err := engine.Deposit(ctx, 1, 100, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = engine.Withdraw(ctx, 1, 100, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = engine.Transfer(ctx, 1, 100, 1, 200, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = engine.Transfer(ctx, 1, 100, 1, 100, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	assert.Zero(t, store.calls.Load())
}

func TestTransfer_Fees(t *testing.T) {
	tests := []struct {
		name           string
		dstAgency      int64
		dstNumber      int64
		wantSourceLeft domain.Amount
		wantDestAfter  domain.Amount
		fee            domain.Amount
	}{
		{name: "same agency is free", dstAgency: 1, dstNumber: 200, wantSourceLeft: domain.Units(470), wantDestAfter: domain.Units(130)},
		{name: "cross agency charges source", dstAgency: 2, dstNumber: 300, wantSourceLeft: domain.Units(462), wantDestAfter: domain.Units(80), fee: domain.Units(8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, seed())
			engine := usecase.NewLedgerEngine(store)
			before := balanceOf(t, store, 1, 100) + balanceOf(t, store, tt.dstAgency, tt.dstNumber)

			b, err := engine.Transfer(context.Background(), 1, 100, tt.dstAgency, tt.dstNumber, domain.Units(30))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSourceLeft, b)
			assert.Equal(t, tt.wantSourceLeft, balanceOf(t, store, 1, 100))
			assert.Equal(t, tt.wantDestAfter, balanceOf(t, store, tt.dstAgency, tt.dstNumber))

			after := balanceOf(t, store, 1, 100) + balanceOf(t, store, tt.dstAgency, tt.dstNumber)
			assert.Equal(t, before-tt.fee, after)
		})
	}
}

func TestTransfer_Rejections(t *testing.T) {
	store := newStore(t, seed())
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	_, err := engine.Transfer(ctx, 9, 1, 9, 2, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrSourceNotFound, "source is checked first")

	_, err = engine.Transfer(ctx, 1, 100, 9, 2, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrDestinationNotFound)

	// 50 + 8 > 50
	_, err = engine.Transfer(ctx, 2, 300, 1, 100, domain.Units(50))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.Units(50), balanceOf(t, store, 2, 300))
	assert.Equal(t, domain.Units(500), balanceOf(t, store, 1, 100))
}

func TestTransfer_CompensatesWhenDestinationVanishes(t *testing.T) {
	base := newStore(t, seed())
	dst := domain.AccountKey{Agency: 2, Number: 300}
	store := &faultStore{AccountStore: base}
	store.increment = func(ctx context.Context, key domain.AccountKey, delta domain.Amount) (bool, error) {
		if key == dst && delta > 0 {
			_, _, err := base.Delete(ctx, key)
			require.NoError(t, err)
		}
		return false, nil
	}
	alarm := &recordingAlarm{}
	engine := usecase.NewLedgerEngine(store, usecase.WithAlarm(alarm))

	_, err := engine.Transfer(context.Background(), 1, 100, 2, 300, domain.Units(30))
	assert.ErrorIs(t, err, domain.ErrDestinationNotFound)
	assert.Equal(t, domain.Units(500), balanceOf(t, base, 1, 100))
	assert.Empty(t, alarm.anomalies)
}

func TestTransfer_CompensatesWhenCreditWouldOverflow(t *testing.T) {
	store := newStore(t, []domain.Account{
		{Agency: 1, Number: 100, OwnerName: "Ana", Balance: domain.Units(500)},
		{Agency: 1, Number: 200, OwnerName: "Bruno", Balance: domain.MaxBalance - domain.Units(10)},
	})
	alarm := &recordingAlarm{}
	engine := usecase.NewLedgerEngine(store, usecase.WithAlarm(alarm))

	_, err := engine.Transfer(context.Background(), 1, 100, 1, 200, domain.Units(30))
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	assert.Equal(t, domain.Units(500), balanceOf(t, store, 1, 100))
	assert.Equal(t, domain.MaxBalance-domain.Units(10), balanceOf(t, store, 1, 200))
	assert.Empty(t, alarm.anomalies)
}

func TestTransfer_CompensatesOnCreditStoreError(t *testing.T) {
	base := newStore(t, seed())
	dst := domain.AccountKey{Agency: 1, Number: 200}
	store := &faultStore{AccountStore: base}
	store.increment = func(_ context.Context, key domain.AccountKey, _ domain.Amount) (bool, error) {
		return key == dst, errStoreDown
	}
	engine := usecase.NewLedgerEngine(store)

	_, err := engine.Transfer(context.Background(), 1, 100, 1, 200, domain.Units(30))
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, domain.ErrTransferInconsistent)
	assert.Equal(t, domain.Units(500), balanceOf(t, base, 1, 100))
	assert.Equal(t, domain.Units(100), balanceOf(t, base, 1, 200))
}

func TestTransfer_InconsistentWhenCompensationFails(t *testing.T) {
	base := newStore(t, seed())
	src := domain.AccountKey{Agency: 1, Number: 100}
	dst := domain.AccountKey{Agency: 2, Number: 300}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &faultStore{AccountStore: base}
	var debited atomic.Bool
	store.increment = func(ctx context.Context, key domain.AccountKey, delta domain.Amount) (bool, error) {
		switch {
		case key == src && delta < 0:
			debited.Store(true)
			// 扣款後取消請求，入帳與沖正仍必須執行
			cancel()
			return false, nil
		case key == dst:
			assert.NoError(t, ctx.Err(), "credit must not observe cancellation")
			return true, nil
		case key == src && delta > 0:
			assert.NoError(t, ctx.Err(), "compensation must not observe cancellation")
			return true, errStoreDown
		}
		return false, nil
	}
	alarm := &recordingAlarm{}
	engine := usecase.NewLedgerEngine(store, usecase.WithAlarm(alarm))

	_, err := engine.Transfer(ctx, 1, 100, 2, 300, domain.Units(30))
	require.True(t, debited.Load())
	require.ErrorIs(t, err, domain.ErrTransferInconsistent)

	var inconsistency *domain.TransferInconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, domain.Units(38), inconsistency.Anomaly.DebitTotal)
	assert.Equal(t, domain.Units(8), inconsistency.Anomaly.Fee)
	assert.Equal(t, src, inconsistency.Anomaly.Source)
	assert.Equal(t, errStoreDown.Error(), inconsistency.Anomaly.CompensateError)

	require.Len(t, alarm.anomalies, 1)
	assert.Equal(t, inconsistency.Anomaly.TransferID, alarm.anomalies[0].TransferID)
	// 扣款確實提交，資金卡在扣款未入帳狀態
	assert.Equal(t, domain.Units(462), balanceOf(t, base, 1, 100))
}

func TestCloseAccount(t *testing.T) {
	store := newStore(t, seed())
	engine := usecase.NewLedgerEngine(store)
	ctx := context.Background()

	_, err := engine.CloseAccount(ctx, 1, 999)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	closure, err := engine.CloseAccount(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, "Ana", closure.Account.OwnerName)
	assert.Equal(t, domain.Units(500), closure.Account.Balance)
	assert.Equal(t, int64(1), closure.Remaining)

	_, err = engine.GetBalance(ctx, 1, 100)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// countFailStore 刪除正常，但計數失敗
type countFailStore struct {
	usecase.AccountStore
}

func (countFailStore) Count(context.Context, int64) (int64, error) {
	return 0, errStoreDown
}

func TestCloseAccount_CountFailureKeepsClosure(t *testing.T) {
	base := newStore(t, seed())
	engine := usecase.NewLedgerEngine(countFailStore{AccountStore: base})

	closure, err := engine.CloseAccount(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, "Ana", closure.Account.OwnerName)
	assert.Equal(t, domain.RemainingUnknown, closure.Remaining)

	_, ok, err := base.Find(context.Background(), domain.AccountKey{Agency: 1, Number: 100})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAverageBalance(t *testing.T) {
	reporting := usecase.NewReportingService(newStore(t, seed()))
	ctx := context.Background()

	avg, err := reporting.AverageBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(avg), "got %s", avg)

	again, err := reporting.AverageBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, avg.Equal(again))

	_, err = reporting.AverageBalance(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrEmptyAgency)

	n, err := reporting.AccountCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAverageBalance_ZeroIsNotEmpty(t *testing.T) {
	reporting := usecase.NewReportingService(newStore(t, []domain.Account{
		{Agency: 4, Number: 1, OwnerName: "Eva", Balance: 0},
	}))

	avg, err := reporting.AverageBalance(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, avg.IsZero())
}

func TestConcurrentWithdrawalsNoDoubleSpend(t *testing.T) {
	store := newStore(t, []domain.Account{{Agency: 1, Number: 100, OwnerName: "Ana", Balance: domain.Units(500)}})
	engine := usecase.NewLedgerEngine(store)

	var (
		wg           sync.WaitGroup
		successes    atomic.Int64
		insufficient atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 每筆 49 + 手續費 1，餘額只夠 10 筆
			_, err := engine.Withdraw(context.Background(), 1, 100, domain.Units(49))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), successes.Load())
	assert.Equal(t, int64(15), insufficient.Load())
	assert.Equal(t, domain.Amount(0), balanceOf(t, store, 1, 100))
}

func TestRandomConcurrentOperationsKeepInvariants(t *testing.T) {
	accounts := []domain.Account{
		{Agency: 1, Number: 1, OwnerName: "A", Balance: domain.Units(200)},
		{Agency: 1, Number: 2, OwnerName: "B", Balance: domain.Units(200)},
		{Agency: 2, Number: 1, OwnerName: "C", Balance: domain.Units(200)},
		{Agency: 2, Number: 2, OwnerName: "D", Balance: domain.Units(200)},
	}
	store := newStore(t, accounts)
	engine := usecase.NewLedgerEngine(store)
	fees := domain.DefaultFees

	var (
		wg    sync.WaitGroup
		delta atomic.Int64 // 系統總金額的預期變化
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			ctx := context.Background()
			for i := 0; i < 200; i++ {
				a := accounts[rng.Intn(len(accounts))]
				b := accounts[rng.Intn(len(accounts))]
				amount := domain.Units(int64(rng.Intn(60) + 1))
				switch rng.Intn(3) {
				case 0:
					if _, err := engine.Deposit(ctx, a.Agency, a.Number, amount); err == nil {
						delta.Add(int64(amount))
					}
				case 1:
					if _, err := engine.Withdraw(ctx, a.Agency, a.Number, amount); err == nil {
						delta.Add(-int64(amount + fees.WithdrawalFee()))
					}
				case 2:
					if _, err := engine.Transfer(ctx, a.Agency, a.Number, b.Agency, b.Number, amount); err == nil {
						delta.Add(-int64(fees.TransferFee(a.Agency, b.Agency)))
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	var total domain.Amount
	for _, a := range accounts {
		b := balanceOf(t, store, a.Agency, a.Number)
		assert.GreaterOrEqual(t, int64(b), int64(0))
		total += b
	}
	assert.Equal(t, domain.Units(800)+domain.Amount(delta.Load()), total)
}
