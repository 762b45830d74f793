package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

// LedgerEngine 是核心業務邏輯層
// 本身不持有任何鎖，也不快取餘額；正確性完全建立在 AccountStore 的原子操作上
type LedgerEngine struct {
	store  AccountStore
	fees   domain.FeePolicy
	alarm  Alarm
	logger *zap.Logger
}

// EngineOption 定義了 LedgerEngine 的配置選項函數
type EngineOption func(*LedgerEngine)

// WithFeePolicy 設定手續費規則 (預設 domain.DefaultFees)
func WithFeePolicy(fees domain.FeePolicy) EngineOption {
	return func(e *LedgerEngine) {
		e.fees = fees
	}
}

// WithAlarm 設定轉帳不一致時的告警通道
func WithAlarm(alarm Alarm) EngineOption {
	return func(e *LedgerEngine) {
		e.alarm = alarm
	}
}

// WithLogger 設定 Logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *LedgerEngine) {
		e.logger = logger
	}
}

// NewLedgerEngine 建立 LedgerEngine
//
// 參數:
//
//	store: 帳戶儲存
//	opts: 可選配置
//
// 回傳:
//
//	*LedgerEngine: 實例
func NewLedgerEngine(store AccountStore, opts ...EngineOption) *LedgerEngine {
	e := &LedgerEngine{
		store:  store,
		fees:   domain.DefaultFees,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetBalance 取得帳戶餘額
func (e *LedgerEngine) GetBalance(ctx context.Context, agency, number int64) (domain.Amount, error) {
	key, err := domain.NewAccountKey(agency, number)
	if err != nil {
		return 0, err
	}
	account, ok, err := e.store.Find(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", key, err)
	}
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return account.Balance, nil
}

// Deposit 存款，回傳更新後餘額
func (e *LedgerEngine) Deposit(ctx context.Context, agency, number int64, amount domain.Amount) (domain.Amount, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	key, err := domain.NewAccountKey(agency, number)
	if err != nil {
		return 0, err
	}
	account, ok, err := e.store.ConditionalIncrement(ctx, key, domain.CanCredit(amount), amount)
	if err != nil {
		return 0, fmt.Errorf("deposit %s: %w", key, err)
	}
	if !ok {
		return 0, e.explainRejected(ctx, key, domain.ErrAccountNotFound, domain.ErrBalanceOverflow)
	}
	return account.Balance, nil
}

// Withdraw 提款 (加收提款手續費)，回傳更新後餘額
//
// 參數:
//
//	ctx: 上下文
//	agency, number: 帳戶
//	amount: 提款金額，不含手續費
//
// 回傳:
//
//	domain.Amount: 更新後餘額
//	error: ErrInvalidAmount / ErrAccountNotFound / ErrInsufficientFunds 或儲存層錯誤
func (e *LedgerEngine) Withdraw(ctx context.Context, agency, number int64, amount domain.Amount) (domain.Amount, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	key, err := domain.NewAccountKey(agency, number)
	if err != nil {
		return 0, err
	}
	total := amount + e.fees.WithdrawalFee()
	if total < amount {
		return 0, domain.ErrInvalidAmount
	}

	// 1. 確認帳戶存在 (僅供參考，真正的關卡是下一步的條件式更新)
	if _, ok, err := e.store.Find(ctx, key); err != nil {
		return 0, fmt.Errorf("withdraw %s: %w", key, err)
	} else if !ok {
		return 0, domain.ErrAccountNotFound
	}

	// 2. 原子扣款
	account, ok, err := e.store.ConditionalIncrement(ctx, key, domain.AtLeast(total), -total)
	if err != nil {
		return 0, fmt.Errorf("withdraw %s: %w", key, err)
	}
	if !ok {
		return 0, e.explainRejected(ctx, key, domain.ErrAccountNotFound, domain.ErrInsufficientFunds)
	}
	return account.Balance, nil
}

// Transfer 轉帳，回傳轉出帳戶扣款後餘額
// 先扣款再入帳；入帳失敗時沖正回轉出帳戶，沖正也失敗則回傳 TransferInconsistencyError 並告警
func (e *LedgerEngine) Transfer(ctx context.Context, srcAgency, srcNumber, dstAgency, dstNumber int64, amount domain.Amount) (domain.Amount, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	src, err := domain.NewAccountKey(srcAgency, srcNumber)
	if err != nil {
		return 0, err
	}
	dst, err := domain.NewAccountKey(dstAgency, dstNumber)
	if err != nil {
		return 0, err
	}
	if src == dst {
		return 0, domain.ErrInvalidTarget
	}

	fee := e.fees.TransferFee(src.Agency, dst.Agency)
	total := amount + fee
	if total < amount {
		return 0, domain.ErrInvalidAmount
	}

	// 來源先於目的檢查，兩者都不存在時固定回報來源錯誤
	if _, ok, err := e.store.Find(ctx, src); err != nil {
		return 0, fmt.Errorf("transfer source %s: %w", src, err)
	} else if !ok {
		return 0, domain.ErrSourceNotFound
	}
	if _, ok, err := e.store.Find(ctx, dst); err != nil {
		return 0, fmt.Errorf("transfer destination %s: %w", dst, err)
	} else if !ok {
		return 0, domain.ErrDestinationNotFound
	}

	debited, ok, err := e.store.ConditionalIncrement(ctx, src, domain.AtLeast(total), -total)
	if err != nil {
		return 0, fmt.Errorf("transfer debit %s: %w", src, err)
	}
	if !ok {
		return 0, e.explainRejected(ctx, src, domain.ErrSourceNotFound, domain.ErrInsufficientFunds)
	}

	// 扣款已提交：之後的入帳或沖正不可被取消
	ctx = context.WithoutCancel(ctx)
	transferID := uuid.New()

	_, credited, creditErr := e.store.ConditionalIncrement(ctx, dst, domain.CanCredit(amount), amount)
	if creditErr == nil && credited {
		return debited.Balance, nil
	}

	logger := e.logger.With(
		zap.Stringer("transfer_id", transferID),
		zap.Stringer("source", src),
		zap.Stringer("destination", dst),
		zap.Stringer("debit_total", total),
	)
	logger.Warn("transfer credit failed, compensating source", zap.Error(creditErr))

	_, compensated, compErr := e.store.ConditionalIncrement(ctx, src, domain.CanCredit(total), total)
	if compErr == nil && compensated {
		if creditErr != nil {
			return 0, fmt.Errorf("transfer credit %s: %w", dst, creditErr)
		}
		return 0, e.explainRejected(ctx, dst, domain.ErrDestinationNotFound, domain.ErrBalanceOverflow)
	}

	anomaly := domain.TransferAnomaly{
		TransferID:      transferID,
		Source:          src,
		Destination:     dst,
		Amount:          amount,
		Fee:             fee,
		DebitTotal:      total,
		CreditError:     describeFailure(creditErr, "destination missing or at maximum balance"),
		CompensateError: describeFailure(compErr, "source missing or at maximum balance"),
		OccurredAt:      time.Now().UTC(),
	}
	logger.Error("transfer inconsistent, manual reconciliation required",
		zap.String("credit_error", anomaly.CreditError),
		zap.String("compensate_error", anomaly.CompensateError),
	)
	if e.alarm != nil {
		if err := e.alarm.RaiseTransferInconsistency(ctx, anomaly); err != nil {
			logger.Error("failed to raise transfer inconsistency alarm", zap.Error(err))
		}
	}
	return 0, &domain.TransferInconsistencyError{Anomaly: anomaly}
}

// CloseAccount 銷戶，回傳被刪除的帳戶與該分行剩餘帳戶數
// 剩餘數只是刪除後的快照，不保證與同分行並發銷戶一致；取不到時為 domain.RemainingUnknown
func (e *LedgerEngine) CloseAccount(ctx context.Context, agency, number int64) (domain.Closure, error) {
	key, err := domain.NewAccountKey(agency, number)
	if err != nil {
		return domain.Closure{}, err
	}
	removed, ok, err := e.store.Delete(ctx, key)
	if err != nil {
		return domain.Closure{}, fmt.Errorf("close account %s: %w", key, err)
	}
	if !ok {
		return domain.Closure{}, domain.ErrAccountNotFound
	}
	// 刪除已提交，計數失敗不影響結果
	remaining, err := e.store.Count(ctx, key.Agency)
	if err != nil {
		e.logger.Warn("account closed but agency count unavailable",
			zap.Stringer("account", key),
			zap.Error(err),
		)
		remaining = domain.RemainingUnknown
	}
	return domain.Closure{Account: removed, Remaining: remaining}, nil
}

// explainRejected 條件式更新沒有結果時，重新查詢以區分「帳戶消失」與「predicate 不成立」
func (e *LedgerEngine) explainRejected(ctx context.Context, key domain.AccountKey, notFound, rejected error) error {
	_, ok, err := e.store.Find(ctx, key)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !ok {
		return notFound
	}
	return rejected
}

func describeFailure(err error, rejected string) string {
	if err != nil {
		return err.Error()
	}
	return rejected
}
