package digest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veille/internal/types"
)

type mockRunLock struct {
	ok       bool
	err      error
	released bool
}

func (m *mockRunLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	if !m.ok {
		return nil, false, nil
	}
	return func() { m.released = true }, true, nil
}

type mockMetricsPublisher struct {
	published []types.RunStats
}

func (m *mockMetricsPublisher) PublishRunStats(ctx context.Context, stats types.RunStats) {
	m.published = append(m.published, stats)
}

func newIdleJob(lock RunLock, metrics MetricsPublisher) *Job {
	users := &mockUserRepo{}
	selector := NewSelector(&mockContentRepo{}, nil)
	batcher := NewBatcher(&mockGateway{}, "tmpl", 10, 1, nil)
	runner := NewRunner(users, selector, batcher, 10, 1, nil)
	return NewJob(runner, lock, metrics, nil)
}

func TestJobExecutesWithLock(t *testing.T) {
	lock := &mockRunLock{ok: true}
	metrics := &mockMetricsPublisher{}

	stats, err := newIdleJob(lock, metrics).Execute(context.Background(), ts("2026-03-10T06:00:00Z"))

	require.NoError(t, err)
	assert.True(t, lock.released)
	require.Len(t, metrics.published, 1)
	assert.Equal(t, stats.RunID, metrics.published[0].RunID)
}

func TestJobConflictsWhenLockHeld(t *testing.T) {
	lock := &mockRunLock{ok: false}
	metrics := &mockMetricsPublisher{}

	_, err := newIdleJob(lock, metrics).Execute(context.Background(), ts("2026-03-10T06:00:00Z"))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictRunInProgress, appErr.Code)
	assert.Empty(t, metrics.published)
}

func TestJobFailsWhenLockErrors(t *testing.T) {
	lock := &mockRunLock{err: errors.New("connection refused")}

	_, err := newIdleJob(lock, nil).Execute(context.Background(), ts("2026-03-10T06:00:00Z"))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestJobRunsWithoutLock(t *testing.T) {
	_, err := newIdleJob(nil, nil).Execute(context.Background(), ts("2026-03-10T06:00:00Z"))
	require.NoError(t, err)
}
