package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/redis/go-redis/v9"
)

const (
	anomalyKeyPrefix = "paysecure:anomaly"
	// anomalyFeedLimit caps the monitoring feed list
	anomalyFeedLimit = 1000
	// counters outlive the longest refresh window after the most recent change
	anomalyCounterTTL = 7 * 24 * time.Hour
)

// DeviceAnomalyRepository records device fingerprint changes in Redis.
// Every change increments the per-session counter; only the first change in each
// window is pushed onto the monitoring feed.
type DeviceAnomalyRepository struct {
	redis  redis.UniversalClient
	window time.Duration
}

func NewDeviceAnomalyRepository(client redis.UniversalClient, window time.Duration) *DeviceAnomalyRepository {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &DeviceAnomalyRepository{redis: client, window: window}
}

type anomalyRecord struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Expected  string    `json:"expected"`
	Observed  string    `json:"observed"`
	IPAddress string    `json:"ip_address"`
	At        time.Time `json:"at"`
}

func (r *DeviceAnomalyRepository) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", anomalyKeyPrefix, sessionID)
}

func (r *DeviceAnomalyRepository) windowKey(sessionID string) string {
	return fmt.Sprintf("%s:window:%s", anomalyKeyPrefix, sessionID)
}

func (r *DeviceAnomalyRepository) feedKey() string {
	return anomalyKeyPrefix + ":feed"
}

// RecordDeviceChange implements auth.AnomalyRecorder
func (r *DeviceAnomalyRepository) RecordDeviceChange(ctx context.Context, anomaly auth.DeviceAnomaly) error {
	key := r.sessionKey(anomaly.SessionID)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, anomalyCounterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to count device anomaly: %w", err)
	}

	first, err := r.redis.SetNX(ctx, r.windowKey(anomaly.SessionID), anomaly.Observed, r.window).Result()
	if err != nil {
		return fmt.Errorf("failed to check anomaly window: %w", err)
	}
	if !first {
		return nil
	}

	payload, err := json.Marshal(anomalyRecord(anomaly))
	if err != nil {
		return fmt.Errorf("failed to encode anomaly: %w", err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.feedKey(), payload)
		pipe.LTrim(ctx, r.feedKey(), 0, anomalyFeedLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish anomaly: %w", err)
	}
	return nil
}

// CountForSession returns how many device changes were seen on a session.
// Implements auth.AnomalyCounter.
func (r *DeviceAnomalyRepository) CountForSession(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.redis.Get(ctx, r.sessionKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Recent returns the newest entries of the monitoring feed, newest first
func (r *DeviceAnomalyRepository) Recent(ctx context.Context, limit int64) ([]auth.DeviceAnomaly, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := r.redis.LRange(ctx, r.feedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly feed: %w", err)
	}

	out := make([]auth.DeviceAnomaly, 0, len(raw))
	for _, item := range raw {
		var rec anomalyRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, auth.DeviceAnomaly(rec))
	}
	return out, nil
}
