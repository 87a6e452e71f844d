package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/model"
	"contentpipe/internal/store"
)

type fakeStore struct {
	recovered  []*model.Item
	recoverErr error
	settings   map[string]string
	sweeps     int

	lastThreshold time.Duration
}

func (f *fakeStore) RecoverStuck(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	f.sweeps++
	f.lastThreshold = threshold
	return f.recovered, f.recoverErr
}

func (f *fakeStore) StuckReport(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	return f.recovered, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, error) {
	if v, ok := f.settings[key]; ok {
		return v, nil
	}
	return "", nil
}

func (f *fakeStore) CountByStageAndStatus(ctx context.Context) ([]store.StageStatusCount, error) {
	return nil, nil
}

func TestRunSweepsOnEveryTick(t *testing.T) {
	fs := &fakeStore{settings: map[string]string{model.SettingStuckPostThresholdMinutes: "30"}}
	m := New(fs, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	require.GreaterOrEqual(t, fs.sweeps, 3, "the manager must sweep repeatedly on its ticker")
}

func TestForceRecoverUsesConfiguredThreshold(t *testing.T) {
	item := &model.Item{ID: 1, Stage: model.StageTriage, Status: model.StatusPending}
	fs := &fakeStore{settings: map[string]string{model.SettingStuckPostThresholdMinutes: "15"}, recovered: []*model.Item{item}}
	m := New(fs, time.Hour)

	recovered, err := m.ForceRecover(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, int64(1), recovered[0].ID)
	require.Equal(t, 15*time.Minute, fs.lastThreshold)
}
