package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testAnomaly(observed string) auth.DeviceAnomaly {
	return auth.DeviceAnomaly{
		SessionID: "sess-1",
		AccountID: "acc-1",
		Expected:  "dev-a",
		Observed:  observed,
		IPAddress: "203.0.113.7",
		At:        time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDeviceAnomalyRepository_CountsEveryChange(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewDeviceAnomalyRepository(rdb, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-b")))
	}

	n, err := repo.CountForSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.CountForSession(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeviceAnomalyRepository_FeedThrottledPerWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewDeviceAnomalyRepository(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-b")))
	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-c")))

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "second change in the window is counted but not published")
	assert.Equal(t, "dev-b", recent[0].Observed)
	assert.Equal(t, "acc-1", recent[0].AccountID)
	assert.True(t, recent[0].At.Equal(testAnomaly("").At))

	mr.FastForward(2 * time.Minute)

	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-d")))
	recent, err = repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "dev-d", recent[0].Observed, "newest first")
}

func TestDeviceAnomalyRepository_CounterExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewDeviceAnomalyRepository(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-b")))
	assert.True(t, mr.TTL(repo.sessionKey("sess-1")) > 0)

	mr.FastForward(8 * 24 * time.Hour)
	n, err := repo.CountForSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeviceAnomalyRepository_CounterTTLRefreshedOnEveryChange(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewDeviceAnomalyRepository(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-b")))
	mr.FastForward(6 * 24 * time.Hour)

	// a counter that lost its TTL would never expire; every write sets it again
	mr.SetTTL(repo.sessionKey("sess-1"), 0)
	require.NoError(t, repo.RecordDeviceChange(ctx, testAnomaly("dev-c")))
	assert.Equal(t, anomalyCounterTTL, mr.TTL(repo.sessionKey("sess-1")))

	n, err := repo.CountForSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDeviceAnomalyRepository_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	repo := NewDeviceAnomalyRepository(rdb, time.Minute)
	mr.Close()

	err = repo.RecordDeviceChange(context.Background(), testAnomaly("dev-b"))
	assert.Error(t, err)
}

func TestNewDeviceAnomalyRepository_DefaultWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewDeviceAnomalyRepository(rdb, 0)
	assert.Equal(t, 10*time.Minute, repo.window)
}
