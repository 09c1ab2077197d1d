package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Cleaner removes records whose owning process is gone.
type Cleaner interface {
	CleanupStale() (int, error)
}

// StaleSweeper calls CleanupStale periodically, and once at start.
type StaleSweeper struct {
	store    Cleaner
	interval time.Duration
	logger   *logrus.Entry
}

func NewStaleSweeper(store Cleaner, interval time.Duration, logger *logrus.Entry) *StaleSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StaleSweeper{store: store, interval: interval, logger: logger}
}

func (s *StaleSweeper) Name() string { return "stale-sweeper" }

func (s *StaleSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweep()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *StaleSweeper) sweep() {
	n, err := s.store.CleanupStale()
	if err != nil {
		s.logger.WithError(err).Warn("Stale session sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("removed", n).Info("Removed stale sessions")
	}
}
