package alarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

func sampleAnomaly() domain.TransferAnomaly {
	return domain.TransferAnomaly{
		TransferID:      uuid.New(),
		Source:          domain.AccountKey{Agency: 1, Number: 100},
		Destination:     domain.AccountKey{Agency: 2, Number: 300},
		Amount:          domain.Units(30),
		Fee:             domain.Units(8),
		DebitTotal:      domain.Units(38),
		CreditError:     "connection reset",
		CompensateError: "connection reset",
		OccurredAt:      time.Now(),
	}
}

func TestLogAlarm(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewLogAlarm(zap.New(core))

	require.NoError(t, a.RaiseTransferInconsistency(context.Background(), sampleAnomaly()))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "1/100", entries[0].ContextMap()["source"])
	assert.Equal(t, "38.00", entries[0].ContextMap()["debit_total"])
}

type stubAlarm struct {
	calls int
	err   error
}

func (s *stubAlarm) RaiseTransferInconsistency(context.Context, domain.TransferAnomaly) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("broker down")
	failing := &stubAlarm{err: boom}
	ok := &stubAlarm{}

	err := Multi{failing, ok}.RaiseTransferInconsistency(context.Background(), sampleAnomaly())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
	assert.NoError(t, Multi{ok}.RaiseTransferInconsistency(context.Background(), sampleAnomaly()))
}
