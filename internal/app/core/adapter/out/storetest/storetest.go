// Package storetest 提供所有 AccountStore 實作共用的行為測試
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// Factory 建立一個已寫入 seed 帳戶的全新 Store
type Factory func(t *testing.T, seed []domain.Account) usecase.AccountStore

// Seed 測試用帳戶
func Seed() []domain.Account {
	return []domain.Account{
		{Agency: 1, Number: 100, OwnerName: "Ana", Balance: domain.Units(500)},
		{Agency: 1, Number: 200, OwnerName: "Bruno", Balance: domain.Units(100)},
		{Agency: 2, Number: 300, OwnerName: "Carla", Balance: domain.Units(0)},
	}
}

var (
	key100 = domain.AccountKey{Agency: 1, Number: 100}
	key200 = domain.AccountKey{Agency: 1, Number: 200}
	key300 = domain.AccountKey{Agency: 2, Number: 300}
	absent = domain.AccountKey{Agency: 9, Number: 999}
)

// Run 執行完整的 AccountStore 行為測試
func Run(t *testing.T, newStore Factory) {
	t.Run("Find", func(t *testing.T) {
		s := newStore(t, Seed())
		ctx := context.Background()

		a, ok, err := s.Find(ctx, key100)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Ana", a.OwnerName)
		assert.Equal(t, domain.Units(500), a.Balance)
		assert.Equal(t, key100, a.Key())

		_, ok, err = s.Find(ctx, absent)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConditionalIncrement", func(t *testing.T) {
		s := newStore(t, Seed())
		ctx := context.Background()

		a, ok, err := s.ConditionalIncrement(ctx, key200, domain.Always(), domain.Units(25))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.Units(125), a.Balance)
		assert.Equal(t, "Bruno", a.OwnerName)

		a, ok, err = s.ConditionalIncrement(ctx, key200, domain.AtLeast(domain.Units(125)), -domain.Units(125))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.Amount(0), a.Balance)

		_, ok, err = s.ConditionalIncrement(ctx, key200, domain.AtLeast(1), -1)
		require.NoError(t, err)
		assert.False(t, ok)

		current, _, err := s.Find(ctx, key200)
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(0), current.Balance)

		_, ok, err = s.ConditionalIncrement(ctx, absent, domain.Always(), 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("NearMaxBalance", func(t *testing.T) {
		key := domain.AccountKey{Agency: 6, Number: 1}
		s := newStore(t, []domain.Account{
			{Agency: 6, Number: 1, OwnerName: "Enzo", Balance: domain.MaxBalance - 5},
		})
		ctx := context.Background()

		_, ok, err := s.ConditionalIncrement(ctx, key, domain.CanCredit(6), 6)
		require.NoError(t, err)
		assert.False(t, ok, "credit past the maximum balance must be refused")

		_, ok, err = s.ConditionalIncrement(ctx, key, domain.AtLeast(domain.MaxBalance-4), -(domain.MaxBalance - 4))
		require.NoError(t, err)
		assert.False(t, ok, "floor one unit above the balance must be refused")

		a, _, err := s.Find(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.MaxBalance-5, a.Balance)

		a, ok, err = s.ConditionalIncrement(ctx, key, domain.CanCredit(5), 5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.MaxBalance, a.Balance)

		a, ok, err = s.ConditionalIncrement(ctx, key, domain.AtLeast(domain.MaxBalance), -domain.MaxBalance)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.Amount(0), a.Balance)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t, Seed())
		ctx := context.Background()

		removed, ok, err := s.Delete(ctx, key100)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Ana", removed.OwnerName)
		assert.Equal(t, domain.Units(500), removed.Balance)

		_, ok, err = s.Delete(ctx, key100)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Find(ctx, key100)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.Count(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Aggregates", func(t *testing.T) {
		s := newStore(t, Seed())
		ctx := context.Background()

		n, err := s.Count(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.Count(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		avg, ok, err := s.AverageBalance(ctx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, decimal.NewFromInt(30000).Equal(avg), "got %s", avg)

		avg, ok, err = s.AverageBalance(ctx, 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, avg.IsZero())

		_, ok, err = s.AverageBalance(ctx, 9)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.ConditionalIncrement(ctx, key300, domain.Always(), 1)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		s := newStore(t, []domain.Account{
			{Agency: 5, Number: 1, OwnerName: "Dora", Balance: domain.Units(10)},
		})
		ctx := context.Background()
		key := domain.AccountKey{Agency: 5, Number: 1}

		var (
			wg        sync.WaitGroup
			successes atomic.Int64
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.ConditionalIncrement(ctx, key, domain.AtLeast(domain.Units(1)), -domain.Units(1))
				assert.NoError(t, err)
				if ok {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), successes.Load())
		a, _, err := s.Find(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(0), a.Balance)
	})
}
