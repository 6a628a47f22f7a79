package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls the failure response floor applied by TimingDelay
type TimingConfig struct {
	BaseDelay      time.Duration // minimum time a failed login takes
	Jitter         time.Duration // random extra delay in [0, Jitter)
	DelayOnSuccess bool
}

// TimingDelay pads authentication failures so that unknown-account, wrong-secret
// and locked outcomes take about the same wall-clock time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoJitter returns a random duration in [0, max) using crypto/rand
func cryptoJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// Target returns the padded duration for one outcome
func (td *TimingDelay) Target(success bool) time.Duration {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return 0
	}
	return td.config.BaseDelay + cryptoJitter(td.config.Jitter)
}

// WaitFrom sleeps until at least Target has elapsed since start.
// It returns early when ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	remaining := td.Target(success) - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
