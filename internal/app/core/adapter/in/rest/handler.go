package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// Handler 將 HTTP 請求轉換為 LedgerEngine / ReportingService 呼叫
type Handler struct {
	engine    *usecase.LedgerEngine
	reporting *usecase.ReportingService
	logger    *zap.Logger
}

func NewHandler(engine *usecase.LedgerEngine, reporting *usecase.ReportingService, logger *zap.Logger) *Handler {
	return &Handler{
		engine:    engine,
		reporting: reporting,
		logger:    logger,
	}
}

type balanceResponse struct {
	Agency  int64  `json:"agency"`
	Account int64  `json:"account"`
	Balance string `json:"balance"`
}

type transferResponse struct {
	Source        domain.AccountKey `json:"source"`
	Destination   domain.AccountKey `json:"destination"`
	Amount        string            `json:"amount"`
	SourceBalance string            `json:"source_balance"`
}

type closeResponse struct {
	Agency            int64  `json:"agency"`
	Account           int64  `json:"account"`
	Owner             string `json:"owner"`
	Balance           string `json:"balance"`
	RemainingAccounts int64  `json:"remaining_accounts"`
}

type averageResponse struct {
	Agency  int64  `json:"agency"`
	Average string `json:"average"`
}

// GetBalance GET /accounts/{agency}/{account}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	agency, account, err := accountParams(r, "agency", "account")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.engine.GetBalance(r.Context(), agency, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Agency: agency, Account: account, Balance: balance.String()})
}

// Deposit PATCH /deposit/{agency}/{account}/{amount}
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	agency, account, err := accountParams(r, "agency", "account")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(chi.URLParam(r, "amount"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.engine.Deposit(r.Context(), agency, account, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Agency: agency, Account: account, Balance: balance.String()})
}

// Withdraw PATCH /withdrawal/{agency}/{account}/{amount}
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	agency, account, err := accountParams(r, "agency", "account")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(chi.URLParam(r, "amount"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.engine.Withdraw(r.Context(), agency, account, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Agency: agency, Account: account, Balance: balance.String()})
}

// Transfer PATCH /transfer/{srcAgency}/{srcAccount}/{dstAgency}/{dstAccount}/{amount}
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	srcAgency, srcAccount, err := accountParams(r, "srcAgency", "srcAccount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dstAgency, dstAccount, err := accountParams(r, "dstAgency", "dstAccount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(chi.URLParam(r, "amount"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.engine.Transfer(r.Context(), srcAgency, srcAccount, dstAgency, dstAccount, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{
		Source:        domain.AccountKey{Agency: srcAgency, Number: srcAccount},
		Destination:   domain.AccountKey{Agency: dstAgency, Number: dstAccount},
		Amount:        amount.String(),
		SourceBalance: balance.String(),
	})
}

// CloseAccount DELETE /accounts/{agency}/{account}
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	agency, account, err := accountParams(r, "agency", "account")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	closure, err := h.engine.CloseAccount(r.Context(), agency, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{
		Agency:            agency,
		Account:           account,
		Owner:             closure.Account.OwnerName,
		Balance:           closure.Account.Balance.String(),
		RemainingAccounts: closure.Remaining,
	})
}

// AverageBalance GET /agencies/{agency}/average
func (h *Handler) AverageBalance(w http.ResponseWriter, r *http.Request) {
	agency, err := parseID(chi.URLParam(r, "agency"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	avg, err := h.reporting.AverageBalance(r.Context(), agency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, averageResponse{Agency: agency, Average: avg.String()})
}

// fail 寫出錯誤回應；5xx 以 error 等級記錄原始錯誤
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func accountParams(r *http.Request, agencyParam, accountParam string) (int64, int64, error) {
	agency, err := parseID(chi.URLParam(r, agencyParam))
	if err != nil {
		return 0, 0, err
	}
	account, err := parseID(chi.URLParam(r, accountParam))
	if err != nil {
		return 0, 0, err
	}
	return agency, account, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidAccountKey
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
