package memory

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/pkg/wal"
)

// accountTable 兩種記憶體 Store 共用的帳戶資料，本身不處理並發
type accountTable map[domain.AccountKey]domain.Account

func newAccountTable(accounts []domain.Account) accountTable {
	t := make(accountTable, len(accounts))
	for _, a := range accounts {
		t[a.Key()] = a
	}
	return t
}

func (t accountTable) find(key domain.AccountKey) (domain.Account, bool) {
	a, ok := t[key]
	return a, ok
}

// planInsert 檢查是否可以開戶，回傳待寫入 WAL 的異動
func (t accountTable) planInsert(account domain.Account) (*domain.Mutation, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if _, exists := t[account.Key()]; exists {
		return nil, domain.ErrAccountAlreadyExists
	}
	m := domain.NewMutation(domain.MutationTypeInsert, account.Key(), account.Balance)
	m.Owner = account.OwnerName
	return m, nil
}

// planIncrement 帳戶存在且 predicate 成立時回傳待寫入 WAL 的異動
func (t accountTable) planIncrement(key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (*domain.Mutation, bool) {
	a, ok := t[key]
	if !ok || !predicate.Holds(a.Balance) {
		return nil, false
	}
	return domain.NewMutation(domain.MutationTypeIncrement, key, delta), true
}

// planDelete 帳戶存在時回傳待寫入 WAL 的異動
func (t accountTable) planDelete(key domain.AccountKey) (*domain.Mutation, bool) {
	if _, ok := t[key]; !ok {
		return nil, false
	}
	return domain.NewMutation(domain.MutationTypeDelete, key, 0), true
}

// apply 套用一筆異動並回傳套用後 (刪除時為刪除前) 的帳戶
func (t accountTable) apply(m *domain.Mutation) (domain.Account, bool) {
	key := m.Key()
	switch m.Type {
	case domain.MutationTypeInsert:
		if _, exists := t[key]; exists {
			return domain.Account{}, false
		}
		a := domain.Account{Agency: key.Agency, Number: key.Number, OwnerName: m.Owner, Balance: m.Delta}
		t[key] = a
		return a, true
	case domain.MutationTypeIncrement:
		a, ok := t[key]
		if !ok {
			return domain.Account{}, false
		}
		a.Balance += m.Delta
		t[key] = a
		return a, true
	case domain.MutationTypeDelete:
		a, ok := t[key]
		if !ok {
			return domain.Account{}, false
		}
		delete(t, key)
		return a, true
	}
	return domain.Account{}, false
}

func (t accountTable) count(agency int64) int64 {
	var n int64
	for key := range t {
		if key.Agency == agency {
			n++
		}
	}
	return n
}

// average 平均餘額 (最小單位)
func (t accountTable) average(agency int64) (decimal.Decimal, bool) {
	var n int64
	sum := decimal.Zero
	for key, a := range t {
		if key.Agency != agency {
			continue
		}
		n++
		sum = sum.Add(decimal.NewFromInt(int64(a.Balance)))
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(n)), true
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態 (單執行緒，建構時呼叫)
//
// 回傳:
//
//	error: 恢復過程錯誤
func (t accountTable) recoverFromWAL(w *wal.WAL) error {
	if w == nil {
		return nil
	}
	return w.ReadAll(func(jsonRaw []byte) error {
		var m domain.Mutation
		if err := json.Unmarshal(jsonRaw, &m); err != nil {
			return err
		}
		t.apply(&m)
		return nil
	})
}
