package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MutationType 帳戶異動類型
// 為了節省記憶體，使用 uint8
type MutationType uint8

const (
	// 開戶
	MutationTypeInsert MutationType = 1
	// 餘額增減
	MutationTypeIncrement MutationType = 2
	// 銷戶
	MutationTypeDelete MutationType = 3
)

// Mutation 已套用的帳戶異動，寫入 WAL 用於重放
// 只記錄實際套用的結果 (Delta)，不記錄判斷條件，重放結果因此是確定的
type Mutation struct {
	// CreatedAt: 異動時間
	CreatedAt int64
	Agency    int64
	Number    int64
	// Delta: 餘額增減量 (Insert 時為初始餘額)
	Delta Amount
	// Owner: 只有 Insert 使用
	Owner string
	// ID: 追蹤號 (UUID)
	ID uuid.UUID
	// Type: 放到最後面，利用 Padding 空間
	Type MutationType
}

// NewMutation 建立一筆帶有 ID 與時間的異動
func NewMutation(t MutationType, key AccountKey, delta Amount) *Mutation {
	return &Mutation{
		CreatedAt: time.Now().UnixNano(),
		Agency:    key.Agency,
		Number:    key.Number,
		Delta:     delta,
		ID:        uuid.New(),
		Type:      t,
	}
}

// Key 回傳異動的帳戶識別
func (m *Mutation) Key() AccountKey {
	return AccountKey{Agency: m.Agency, Number: m.Number}
}

// TransferAnomaly 轉帳不一致的告警內容
type TransferAnomaly struct {
	TransferID      uuid.UUID  `json:"transfer_id"`
	Source          AccountKey `json:"source"`
	Destination     AccountKey `json:"destination"`
	Amount          Amount     `json:"amount"`
	Fee             Amount     `json:"fee"`
	DebitTotal      Amount     `json:"debit_total"`
	CreditError     string     `json:"credit_error,omitempty"`
	CompensateError string     `json:"compensate_error,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// TransferInconsistencyError 扣款成功但入帳與沖正皆失敗
type TransferInconsistencyError struct {
	Anomaly TransferAnomaly
}

func (e *TransferInconsistencyError) Error() string {
	return fmt.Sprintf("%s: transfer %s debited %s from %s, credit to %s and compensation failed",
		ErrTransferInconsistent, e.Anomaly.TransferID, e.Anomaly.DebitTotal, e.Anomaly.Source, e.Anomaly.Destination)
}

func (e *TransferInconsistencyError) Unwrap() error {
	return ErrTransferInconsistent
}
