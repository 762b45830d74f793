package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// amount 使用int64，並定義精度：小數點後 2 位 (最小單位)
const (
	CurrencyScale = 100
	currencyExp   = 2
)

// Amount 以最小單位表示的金額
type Amount int64

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Units 將整數單位換算成最小單位
func Units(n int64) Amount {
	return Amount(n * CurrencyScale)
}

// ParseAmount 解析十進位字串金額
//
// 參數:
//
//	s: 金額字串 (例如 "50", "12.34")
//
// 回傳:
//
//	Amount: 最小單位金額
//	error: 非正數、格式錯誤、精度超過最小單位或溢位時回傳 ErrInvalidAmount
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return AmountFromDecimal(d)
}

// ParseBalance 解析餘額字串，與 ParseAmount 相同但允許 0
func ParseBalance(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return 0, ErrInvalidAmount
	}
	if d.IsZero() {
		return 0, nil
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal 將 decimal 換算成最小單位金額，只接受正數
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := d.Shift(currencyExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if minor.GreaterThan(maxAmount) {
		return 0, ErrInvalidAmount
	}
	return Amount(minor.IntPart()), nil
}

// Decimal 轉成 decimal 表示 (單位)
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -currencyExp)
}

// MinorToUnits 將最小單位的 decimal (例如平均值) 換算成單位
func MinorToUnits(d decimal.Decimal) decimal.Decimal {
	return d.Shift(-currencyExp)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(currencyExp)
}

// MaxBalance 單一帳戶可持有的最大餘額
const MaxBalance Amount = math.MaxInt64

// Predicate 條件式更新的餘額判斷
// 以資料形式表示，讓 SQL / Redis 可以在伺服器端執行同樣的判斷
type Predicate struct {
	min     Amount
	bounded bool
	max     Amount
	capped  bool
}

// Always 永遠成立
func Always() Predicate {
	return Predicate{}
}

// AtLeast 餘額 >= min 時成立
func AtLeast(min Amount) Predicate {
	return Predicate{min: min, bounded: true}
}

// CanCredit 入帳 delta 後不會超過 MaxBalance 時成立
func CanCredit(delta Amount) Predicate {
	return Predicate{max: MaxBalance - delta, capped: true}
}

// Holds 判斷餘額是否滿足條件
func (p Predicate) Holds(balance Amount) bool {
	if p.bounded && balance < p.min {
		return false
	}
	return !p.capped || balance <= p.max
}

// Floor 回傳下限；無下限時 ok 為 false
func (p Predicate) Floor() (min Amount, ok bool) {
	return p.min, p.bounded
}

// Ceiling 回傳上限；無上限時 ok 為 false
func (p Predicate) Ceiling() (max Amount, ok bool) {
	return p.max, p.capped
}
