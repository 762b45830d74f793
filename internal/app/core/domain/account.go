package domain

import (
	"fmt"
	"strings"
)

// AccountKey 帳戶唯一識別 (分行 + 帳號)
type AccountKey struct {
	Agency int64 `json:"agency"`
	Number int64 `json:"account"`
}

// NewAccountKey 建立並驗證帳戶識別，分行與帳號都必須為正整數
func NewAccountKey(agency, number int64) (AccountKey, error) {
	key := AccountKey{Agency: agency, Number: number}
	if err := key.Validate(); err != nil {
		return AccountKey{}, err
	}
	return key, nil
}

// Validate 檢查分行與帳號是否為正整數
func (k AccountKey) Validate() error {
	if k.Agency <= 0 || k.Number <= 0 {
		return ErrInvalidAccountKey
	}
	return nil
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%d/%d", k.Agency, k.Number)
}

// Account 帳戶
type Account struct {
	Agency    int64
	Number    int64
	OwnerName string
	Balance   Amount
}

// NewAccount 建立一個新帳戶 (供外部開戶流程使用)
//
// 參數:
//
//	key: 帳戶識別
//	owner: 戶名，不可為空
//	balance: 初始餘額，不可為負
//
// 回傳:
//
//	Account: 帳戶
//	error: 驗證錯誤
func NewAccount(key AccountKey, owner string, balance Amount) (Account, error) {
	a := Account{
		Agency:    key.Agency,
		Number:    key.Number,
		OwnerName: owner,
		Balance:   balance,
	}
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Validate 檢查帳戶識別、戶名與餘額
func (a Account) Validate() error {
	if err := a.Key().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.OwnerName) == "" {
		return ErrOwnerRequired
	}
	if a.Balance < 0 {
		return ErrNegativeBalance
	}
	return nil
}

// Key 回傳帳戶識別
func (a Account) Key() AccountKey {
	return AccountKey{Agency: a.Agency, Number: a.Number}
}

// RemainingUnknown 銷戶已完成但無法取得剩餘帳戶數
const RemainingUnknown int64 = -1

// Closure 銷戶結果：被刪除的帳戶與該分行剩餘帳戶數
type Closure struct {
	Account   Account
	Remaining int64
}
