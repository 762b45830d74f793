// Package alarm 提供轉帳不一致告警的基本通道
package alarm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// LogAlarm 將告警以 error 等級寫入 Log
type LogAlarm struct {
	logger *zap.Logger
}

func NewLogAlarm(logger *zap.Logger) *LogAlarm {
	return &LogAlarm{logger: logger.Named("alarm")}
}

func (a *LogAlarm) RaiseTransferInconsistency(_ context.Context, anomaly domain.TransferAnomaly) error {
	a.logger.Error("ALARM transfer inconsistency, manual reconciliation required",
		zap.Stringer("transfer_id", anomaly.TransferID),
		zap.Stringer("source", anomaly.Source),
		zap.Stringer("destination", anomaly.Destination),
		zap.Stringer("amount", anomaly.Amount),
		zap.Stringer("fee", anomaly.Fee),
		zap.Stringer("debit_total", anomaly.DebitTotal),
		zap.String("credit_error", anomaly.CreditError),
		zap.String("compensate_error", anomaly.CompensateError),
		zap.Time("occurred_at", anomaly.OccurredAt),
	)
	return nil
}

// Multi 依序將告警送往每個通道，某個通道失敗不影響其他通道
type Multi []usecase.Alarm

func (m Multi) RaiseTransferInconsistency(ctx context.Context, anomaly domain.TransferAnomaly) error {
	var errs []error
	for _, a := range m {
		if err := a.RaiseTransferInconsistency(ctx, anomaly); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ usecase.Alarm = (*LogAlarm)(nil)
	_ usecase.Alarm = Multi(nil)
)
