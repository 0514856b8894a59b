package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"RTPSentinel/internal/model"
)

const latestReportKey = "rtp:report:latest"

// RedisRecorder caches the latest report under a TTL and publishes anomalies
// on a pub/sub channel for live dashboards.
type RedisRecorder struct {
	Client  *redis.Client
	TTL     time.Duration
	Channel string
}

// ConnectRedis opens a client and checks it with a ping.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func NewRedisRecorder(client *redis.Client, ttl time.Duration, channel string) *RedisRecorder {
	return &RedisRecorder{Client: client, TTL: ttl, Channel: channel}
}

func (r *RedisRecorder) RecordReport(ctx context.Context, rep model.Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, latestReportKey, b, r.TTL).Err()
}

func (r *RedisRecorder) RecordAnomaly(ctx context.Context, runID string, rec model.AnomalyRecord) error {
	b, err := json.Marshal(anomalyEvent{RunID: runID, AnomalyRecord: rec})
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.Channel, b).Err()
}

// LatestReport reads the cached report; ok is false when none is cached.
func (r *RedisRecorder) LatestReport(ctx context.Context) (model.Report, bool, error) {
	b, err := r.Client.Get(ctx, latestReportKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Report{}, false, nil
	}
	if err != nil {
		return model.Report{}, false, err
	}
	var rep model.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return model.Report{}, false, fmt.Errorf("decode cached report: %w", err)
	}
	return rep, true, nil
}

func (r *RedisRecorder) Close() error { return r.Client.Close() }
