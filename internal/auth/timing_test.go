package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_WaitFrom_OnFailure(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 50 * time.Millisecond, Jitter: 20 * time.Millisecond})
	start := time.Now()

	td.WaitFrom(context.Background(), start, false)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestTimingDelay_WaitFrom_OnSuccess_NoDelay(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 200 * time.Millisecond})
	start := time.Now()

	td.WaitFrom(context.Background(), start, true)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTimingDelay_WaitFrom_OnSuccess_WithDelay(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 50 * time.Millisecond, DelayOnSuccess: true})
	start := time.Now()

	td.WaitFrom(context.Background(), start, true)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTimingDelay_WaitFrom_AccountsForElapsed(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 50 * time.Millisecond})
	start := time.Now().Add(-time.Second)
	before := time.Now()

	td.WaitFrom(context.Background(), start, false)

	assert.Less(t, time.Since(before), 25*time.Millisecond)
}

func TestTimingDelay_WaitFrom_ContextCancelled(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()

	td.WaitFrom(ctx, start, false)

	assert.Less(t, time.Since(start), time.Second)
}

func TestTimingDelay_NilIsNoop(t *testing.T) {
	var td *TimingDelay
	assert.Zero(t, td.Target(false))
}

func TestCryptoJitter_Range(t *testing.T) {
	assert.Zero(t, cryptoJitter(0))
	for i := 0; i < 100; i++ {
		j := cryptoJitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 10*time.Millisecond)
	}
}
