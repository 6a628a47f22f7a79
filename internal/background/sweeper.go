package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredSessionSweeper deactivates sessions whose refresh window has closed
type ExpiredSessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SessionSweeper periodically deactivates expired sessions so they stop counting
// toward the concurrent session limit even if no request ever touches them again
type SessionSweeper struct {
	sessions ExpiredSessionSweeper
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// DefaultSweepInterval is used when the configured interval is not positive
const DefaultSweepInterval = 15 * time.Minute

// NewSessionSweeper creates a new sweeper
func NewSessionSweeper(sessions ExpiredSessionSweeper, logger *slog.Logger, interval time.Duration) *SessionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SessionSweeper{
		sessions: sessions,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until Stop or ctx is done
func (s *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("session sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("session sweeper context cancelled")
			return
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.sessions.SweepExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("expired sessions deactivated", slog.Int64("sessions", n))
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
