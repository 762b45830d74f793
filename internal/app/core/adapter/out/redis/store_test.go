package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test"), mr
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, seed []domain.Account) usecase.AccountStore {
		s, _ := newTestStore(t)
		for _, a := range seed {
			require.NoError(t, s.Insert(context.Background(), a))
		}
		return s
	})
}

func TestRedisStore_Layout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, domain.Account{Agency: 4, Number: 42, OwnerName: "Dora", Balance: domain.Units(12)}))

	assert.Equal(t, "Dora", mr.HGet("test:account:4:42", "owner"))
	assert.Equal(t, "1200", mr.HGet("test:account:4:42", "balance"))
	members, err := mr.Members("test:agency:4")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, members)

	_, ok, err := s.Delete(ctx, domain.AccountKey{Agency: 4, Number: 42})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, mr.Exists("test:account:4:42"))
	assert.False(t, mr.Exists("test:agency:4"))
}

func TestRedisStore_InsertRejects(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := storetest.Seed()[0]

	require.NoError(t, s.Insert(ctx, a))
	assert.ErrorIs(t, s.Insert(ctx, a), domain.ErrAccountAlreadyExists)
	assert.ErrorIs(t, s.Insert(ctx, domain.Account{Agency: 1, Number: 5}), domain.ErrOwnerRequired)
}

func TestRedisStore_FloorBeyondFloatPrecision(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := domain.AccountKey{Agency: 7, Number: 1}
	const balance = domain.Amount(1 << 53)

	require.NoError(t, s.Insert(ctx, domain.Account{Agency: 7, Number: 1, OwnerName: "Fabio", Balance: balance}))

	_, ok, err := s.ConditionalIncrement(ctx, key, domain.AtLeast(balance+1), -(balance + 1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "9007199254740992", mr.HGet("test:account:7:1", "balance"))

	a, ok, err := s.ConditionalIncrement(ctx, key, domain.AtLeast(balance), -balance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Amount(0), a.Balance)
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, _, err := s.ConditionalIncrement(context.Background(), domain.AccountKey{Agency: 1, Number: 1}, domain.Always(), 1)
	assert.Error(t, err)
}
