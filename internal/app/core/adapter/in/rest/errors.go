package rest

import (
	"errors"
	"net/http"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

// errorBody 錯誤回應格式
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorKinds 錯誤種類對應的 HTTP 狀態碼與錯誤代碼，依序比對
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidAccountKey, http.StatusBadRequest, "invalid_account_key"},
	{domain.ErrInvalidTarget, http.StatusBadRequest, "invalid_target"},
	{domain.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{domain.ErrSourceNotFound, http.StatusNotFound, "source_not_found"},
	{domain.ErrDestinationNotFound, http.StatusNotFound, "destination_not_found"},
	{domain.ErrEmptyAgency, http.StatusNotFound, "empty_agency"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{domain.ErrBalanceOverflow, http.StatusUnprocessableEntity, "balance_overflow"},
	{domain.ErrTransferInconsistent, http.StatusInternalServerError, "transfer_inconsistent"},
}

// statusOf 將錯誤轉換為狀態碼與回應內容
// 儲存層錯誤一律回傳 500，不外洩內部訊息
func statusOf(err error) (int, errorBody) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, errorBody{Code: k.code, Message: k.err.Error()}
		}
	}
	return http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"}
}
