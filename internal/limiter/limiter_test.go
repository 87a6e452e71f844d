package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/model"
)

func TestConfigureCapsConcurrentAcquisitions(t *testing.T) {
	l := New()
	l.Configure(model.StageTriage, 2, 0)

	rel1, err := l.Acquire(context.Background(), model.StageTriage)
	require.NoError(t, err)
	rel2, err := l.Acquire(context.Background(), model.StageTriage)
	require.NoError(t, err)

	_, ok := l.TryAcquire(model.StageTriage)
	require.False(t, ok, "third acquisition must be refused at cap 2")

	rel1()
	_, ok = l.TryAcquire(model.StageTriage)
	require.True(t, ok, "releasing a slot must free capacity")

	rel2()
}

func TestRecordSpendExceedsBudget(t *testing.T) {
	l := New()
	l.Configure(model.StageResponse, 1, 5.0)
	now := time.Now().UTC()

	require.NoError(t, l.RecordSpend(model.StageResponse, now, 3.0))
	err := l.RecordSpend(model.StageResponse, now, 3.0)
	require.Error(t, err)

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, model.StageResponse, budgetErr.Stage)
}

func TestRecordSpendResetsAtDayBoundary(t *testing.T) {
	l := New()
	l.Configure(model.StageResponse, 1, 5.0)

	day1 := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	require.NoError(t, l.RecordSpend(model.StageResponse, day1, 4.0))
	require.Equal(t, 4.0, l.SpentToday(model.StageResponse))

	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	require.NoError(t, l.RecordSpend(model.StageResponse, day2, 1.0))
	require.Equal(t, 1.0, l.SpentToday(model.StageResponse), "spend must reset across a UTC day boundary")
}
