package devlogger

import (
	"context"
	"errors"
	"time"

	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

// Pruner is the part of the record store the sweeper needs.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time, hard bool) (int64, error)
	Count(ctx context.Context, filter storage.ListFilter) (int64, error)
}

var ErrInvalidRetention = errors.New("retention days must be positive")

type SweeperConfig struct {
	// RetentionDays nil disables Cleanup.
	RetentionDays *int
	// Hard deletes rows instead of marking them deleted.
	Hard   bool
	Logger logging.Logger
	Now    func() time.Time
}

// Sweeper removes records older than the retention window.
type Sweeper struct {
	repo      Pruner
	retention *int
	hard      bool
	logger    logging.Logger
	now       func() time.Time
}

func NewSweeper(repo Pruner, cfg SweeperConfig) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Sweeper{repo: repo, hard: cfg.Hard, logger: cfg.Logger, now: cfg.Now}
	if cfg.RetentionDays != nil {
		days := *cfg.RetentionDays
		s.retention = &days
	}
	return s
}

// RetentionDays returns the configured window, if any.
func (s *Sweeper) RetentionDays() (int, bool) {
	if s.retention == nil {
		return 0, false
	}
	return *s.retention, true
}

// Cleanup removes records past the configured retention. Without a
// retention it does nothing and returns 0.
func (s *Sweeper) Cleanup(ctx context.Context) (int64, error) {
	if s.retention == nil {
		return 0, nil
	}
	return s.CleanupWithDays(ctx, *s.retention)
}

// CleanupWithDays removes records created more than days ago. Records
// already soft-deleted are not counted again.
func (s *Sweeper) CleanupWithDays(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := s.cutoff(days)
	n, err := s.repo.Prune(ctx, cutoff, s.hard)
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logging.Fields{
		"days":    days,
		"cutoff":  cutoff.Format(time.RFC3339),
		"removed": n,
		"hard":    s.hard,
	}).Info("sweeper", "cleanup", "Removed expired log records")
	return n, nil
}

// Pending counts what CleanupWithDays would remove.
func (s *Sweeper) Pending(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, ErrInvalidRetention
	}
	return s.repo.Count(ctx, s.ExpiredFilter(days))
}

// ExpiredFilter selects the records CleanupWithDays(days) would remove.
func (s *Sweeper) ExpiredFilter(days int) storage.ListFilter {
	return storage.ListFilter{
		CreatedBefore: s.cutoff(days),
		WithDeleted:   s.hard,
	}
}

// Run calls Cleanup every interval until ctx is done. Failures are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("sweeper", "cleanup", "Scheduled cleanup failed")
			}
		}
	}
}

func (s *Sweeper) cutoff(days int) time.Time {
	return s.now().Add(-time.Duration(days) * 24 * time.Hour)
}
