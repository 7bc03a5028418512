package devlogger_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/storage"
)

var sweepNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAged(t *testing.T, repo *storage.SQLiteRecordRepo, ages ...time.Duration) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(ages))
	for _, age := range ages {
		rec := &storage.LogRecord{Level: "info", Message: age.String(), CreatedAt: sweepNow.Add(-age)}
		require.NoError(t, repo.Insert(context.Background(), rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func newSweeper(repo devlogger.Pruner, retention *int, hard bool) *devlogger.Sweeper {
	return devlogger.NewSweeper(repo, devlogger.SweeperConfig{
		RetentionDays: retention,
		Hard:          hard,
		Now:           func() time.Time { return sweepNow },
	})
}

func TestSweeper_Cleanup(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ids := seedAged(t, repo, days(31), days(29))

	retention := 30
	s := newSweeper(repo, &retention, false)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
	old, err := repo.GetWithDeleted(ctx, ids[0])
	require.NoError(t, err)
	assert.NotNil(t, old.DeletedAt)

	_, err = repo.Get(ctx, ids[1])
	assert.NoError(t, err)

	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second run removes nothing")
}

func TestSweeper_NoRetention(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedAged(t, repo, days(400))

	s := newSweeper(repo, nil, false)
	_, ok := s.RetentionDays()
	assert.False(t, ok)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err := repo.Count(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSweeper_CleanupWithDaysAndPending(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedAged(t, repo, days(10), days(8), days(2))

	s := newSweeper(repo, nil, false)

	pending, err := s.Pending(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	count, err := repo.Count(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "pending does not delete")

	n, err := s.CleanupWithDays(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.CleanupWithDays(ctx, 0)
	assert.ErrorIs(t, err, devlogger.ErrInvalidRetention)
	_, err = s.Pending(ctx, -1)
	assert.ErrorIs(t, err, devlogger.ErrInvalidRetention)
}

func TestSweeper_HardDelete(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ids := seedAged(t, repo, days(40), days(35), days(1))
	require.NoError(t, repo.Delete(ctx, ids[1]))

	retention := 30
	s := newSweeper(repo, &retention, true)

	pending, err := s.Pending(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.GetWithDeleted(ctx, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetWithDeleted(ctx, ids[1])
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type flakyPruner struct {
	calls atomic.Int32
}

func (p *flakyPruner) Prune(ctx context.Context, olderThan time.Time, hard bool) (int64, error) {
	if p.calls.Add(1) == 1 {
		return 0, errors.New("database is locked")
	}
	return 3, nil
}

func (p *flakyPruner) Count(ctx context.Context, filter storage.ListFilter) (int64, error) {
	return 0, nil
}

func TestSweeper_RunRetriesUntilCancelled(t *testing.T) {
	p := &flakyPruner{}
	retention := 30
	s := newSweeper(p, &retention, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
