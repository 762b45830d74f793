//go:build integration

package mysql

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-agency-ledger/pkg/mysql"
)

// 需要 LEDGER_TEST_MYSQL_HOST 等環境變數指向一個可清空的測試資料庫
func newTestClient(t *testing.T) *mysql.Client {
	t.Helper()
	host := os.Getenv("LEDGER_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("LEDGER_TEST_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("LEDGER_TEST_MYSQL_PORT"))
	client, err := mysql.NewClient(mysql.Config{
		Host:       host,
		Port:       port,
		User:       os.Getenv("LEDGER_TEST_MYSQL_USER"),
		Password:   os.Getenv("LEDGER_TEST_MYSQL_PASSWORD"),
		DBName:     os.Getenv("LEDGER_TEST_MYSQL_DB"),
		MaxRetries: 1,
		LogLevel:   "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMySQLStore(t *testing.T) {
	client := newTestClient(t)

	storetest.Run(t, func(t *testing.T, seed []domain.Account) usecase.AccountStore {
		ctx := context.Background()
		s := NewMySQLStore(client)
		require.NoError(t, s.AutoMigrate(ctx))
		require.NoError(t, client.DB().Exec("DELETE FROM accounts").Error)
		for _, a := range seed {
			require.NoError(t, s.Insert(ctx, a))
		}
		return s
	})
}

func TestMySQLStore_InsertAndLoad(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	s := NewMySQLStore(client)
	require.NoError(t, s.AutoMigrate(ctx))
	require.NoError(t, client.DB().Exec("DELETE FROM accounts").Error)

	for _, a := range storetest.Seed() {
		require.NoError(t, s.Insert(ctx, a))
	}
	err := s.Insert(ctx, storetest.Seed()[0])
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)

	all, err := s.LoadAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Seed(), all)
}
