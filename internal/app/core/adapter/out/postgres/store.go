package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	agency     BIGINT NOT NULL CHECK (agency > 0),
	number     BIGINT NOT NULL CHECK (number > 0),
	owner_name TEXT   NOT NULL CHECK (owner_name <> ''),
	balance    BIGINT NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agency, number)
)`

// PostgresStore 以 PostgreSQL 實作 AccountStore
// 每個 primitive 都是單一 SQL 陳述式，原子性由資料庫的列鎖保證
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema 建立 accounts 表 (若不存在)
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure accounts schema: %w", err)
	}
	return nil
}

// Insert 開戶
func (s *PostgresStore) Insert(ctx context.Context, account domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	const query = `INSERT INTO accounts (agency, number, owner_name, balance) VALUES ($1, $2, $3, $4)`
	_, err := s.db.Exec(ctx, query, account.Agency, account.Number, account.OwnerName, int64(account.Balance))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAccountAlreadyExists
	}
	return err
}

// Find 查詢帳戶
func (s *PostgresStore) Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	const query = `
		SELECT agency, number, owner_name, balance
		FROM accounts
		WHERE agency = $1 AND number = $2`
	return scanAccount(s.db.QueryRow(ctx, query, key.Agency, key.Number))
}

// ConditionalIncrement 條件式增減餘額
// 判斷與更新在同一個 UPDATE 內完成，沒有「先讀再寫」的空窗
func (s *PostgresStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (domain.Account, bool, error) {
	const query = `
		UPDATE accounts
		SET balance = balance + $3, updated_at = now()
		WHERE agency = $1 AND number = $2
			AND ($4::bigint IS NULL OR balance >= $4::bigint)
			AND ($5::bigint IS NULL OR balance <= $5::bigint)
		RETURNING agency, number, owner_name, balance`

	var floor, ceiling *int64
	if min, ok := predicate.Floor(); ok {
		v := int64(min)
		floor = &v
	}
	if max, ok := predicate.Ceiling(); ok {
		v := int64(max)
		ceiling = &v
	}
	return scanAccount(s.db.QueryRow(ctx, query, key.Agency, key.Number, int64(delta), floor, ceiling))
}

// Delete 銷戶
func (s *PostgresStore) Delete(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	const query = `
		DELETE FROM accounts
		WHERE agency = $1 AND number = $2
		RETURNING agency, number, owner_name, balance`
	return scanAccount(s.db.QueryRow(ctx, query, key.Agency, key.Number))
}

// Count 分行帳戶數
func (s *PostgresStore) Count(ctx context.Context, agency int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE agency = $1`, agency).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// AverageBalance 分行平均餘額 (最小單位)
func (s *PostgresStore) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, bool, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(balance), 0)::text FROM accounts WHERE agency = $1`
	var (
		n     int64
		total string
	)
	if err := s.db.QueryRow(ctx, query, agency).Scan(&n, &total); err != nil {
		return decimal.Zero, false, fmt.Errorf("average balance: %w", err)
	}
	if n == 0 {
		return decimal.Zero, false, nil
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse balance sum %q: %w", total, err)
	}
	return sum.Div(decimal.NewFromInt(n)), true, nil
}

func scanAccount(row pgx.Row) (domain.Account, bool, error) {
	var (
		a       domain.Account
		balance int64
	)
	err := row.Scan(&a.Agency, &a.Number, &a.OwnerName, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	a.Balance = domain.Amount(balance)
	return a, true, nil
}

var _ usecase.AccountStore = (*PostgresStore)(nil)
