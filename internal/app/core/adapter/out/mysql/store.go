package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-agency-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Agency    int64  `gorm:"not null;uniqueIndex:idx_agency_number,priority:1"`
	Number    int64  `gorm:"not null;uniqueIndex:idx_agency_number,priority:2"`
	OwnerName string `gorm:"size:255;not null"`
	Balance   int64  `gorm:"not null"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() domain.Account {
	return domain.Account{
		Agency:    a.Agency,
		Number:    a.Number,
		OwnerName: a.OwnerName,
		Balance:   domain.Amount(a.Balance),
	}
}

// MySQLStore 以 MySQL 實作 AccountStore
// 寫入操作在 Transaction 內以悲觀鎖 (SELECT ... FOR UPDATE) 鎖定單一帳戶列
type MySQLStore struct {
	client *mysql.Client
}

func NewMySQLStore(client *mysql.Client) *MySQLStore {
	return &MySQLStore{
		client: client,
	}
}

// AutoMigrate 建立或更新 accounts 表
func (s *MySQLStore) AutoMigrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{})
}

// Insert 開戶
func (s *MySQLStore) Insert(ctx context.Context, account domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	row := sqlAccount{
		Agency:    account.Agency,
		Number:    account.Number,
		OwnerName: account.OwnerName,
		Balance:   int64(account.Balance),
	}
	err := s.client.DB().WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAccountAlreadyExists
	}
	return err
}

// LoadAllAccounts 載入所有帳戶，用於啟動記憶體帳本
func (s *MySQLStore) LoadAllAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []sqlAccount
	if err := s.client.DB().WithContext(ctx).Order("agency, number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts := make([]domain.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toDomain())
	}
	return accounts, nil
}

// Find 查詢帳戶
func (s *MySQLStore) Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	var row sqlAccount
	res := s.client.DB().WithContext(ctx).
		Where("agency = ? AND number = ?", key.Agency, key.Number).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return domain.Account{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Account{}, false, nil
	}
	return row.toDomain(), true, nil
}

// ConditionalIncrement 條件式增減餘額
// 鎖定帳戶列 -> 判斷 predicate -> balance = balance + delta，全部在同一個 Transaction 內
func (s *MySQLStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (domain.Account, bool, error) {
	var (
		updated domain.Account
		applied bool
	)
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, found, err := lockAccount(tx, key)
		if err != nil || !found {
			return err
		}
		if !predicate.Holds(domain.Amount(row.Balance)) {
			return nil
		}
		if err := tx.Model(&row).Update("balance", gorm.Expr("balance + ?", int64(delta))).Error; err != nil {
			return err
		}
		row.Balance += int64(delta)
		updated, applied = row.toDomain(), true
		return nil
	})
	if err != nil {
		return domain.Account{}, false, err
	}
	return updated, applied, nil
}

// Delete 銷戶
func (s *MySQLStore) Delete(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	var (
		removed domain.Account
		deleted bool
	)
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, found, err := lockAccount(tx, key)
		if err != nil || !found {
			return err
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		removed, deleted = row.toDomain(), true
		return nil
	})
	if err != nil {
		return domain.Account{}, false, err
	}
	return removed, deleted, nil
}

// Count 分行帳戶數
func (s *MySQLStore) Count(ctx context.Context, agency int64) (int64, error) {
	var n int64
	err := s.client.DB().WithContext(ctx).
		Model(&sqlAccount{}).
		Where("agency = ?", agency).
		Count(&n).Error
	return n, err
}

// AverageBalance 分行平均餘額 (最小單位)
func (s *MySQLStore) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, bool, error) {
	var agg struct {
		N     int64
		Total decimal.Decimal
	}
	err := s.client.DB().WithContext(ctx).
		Model(&sqlAccount{}).
		Select("COUNT(*) AS n, COALESCE(SUM(balance), 0) AS total").
		Where("agency = ?", agency).
		Scan(&agg).Error
	if err != nil {
		return decimal.Zero, false, err
	}
	if agg.N == 0 {
		return decimal.Zero, false, nil
	}
	return agg.Total.Div(decimal.NewFromInt(agg.N)), true, nil
}

// lockAccount 取得鎖定的帳戶列 (悲觀鎖)
func lockAccount(tx *gorm.DB, key domain.AccountKey) (sqlAccount, bool, error) {
	var row sqlAccount
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("agency = ? AND number = ?", key.Agency, key.Number).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return sqlAccount{}, false, res.Error
	}
	return row, res.RowsAffected > 0, nil
}

var _ usecase.AccountStore = (*MySQLStore)(nil)
