package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	threatsKey        = "threats"
	threatHistoryKey  = "threats:history"
	blockedIPsKey     = "blocked_ips"
	alertsChannel     = "alerts"
	threatHistoryKeep = 24 * time.Hour
)

type RedisStore struct {
	client *redis.Client
}

// blockEntry is the value stored per blocked IP
type blockEntry struct {
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// SaveThreat stores the record in the threats hash and indexes it by time
func (r *RedisStore) SaveThreat(ctx context.Context, rec models.ThreatRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ts := rec.Anomaly.Timestamp
	cutoff := ts.Add(-threatHistoryKeep).Unix()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, threatsKey, rec.Anomaly.ID, string(data))
	pipe.ZAdd(ctx, threatHistoryKey, redis.Z{
		Score:  float64(ts.Unix()),
		Member: rec.Anomaly.ID,
	})
	pipe.ZRemRangeByScore(ctx, threatHistoryKey, "-inf", fmt.Sprintf("(%d", cutoff))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save threat %s: %w", rec.Anomaly.ID, err)
	}
	return nil
}

// RecentThreats returns threats indexed within the last window, newest first
func (r *RedisStore) RecentThreats(ctx context.Context, window time.Duration) ([]models.ThreatRecord, error) {
	since := time.Now().Add(-window).Unix()

	ids, err := r.client.ZRevRangeByScore(ctx, threatHistoryKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.ThreatRecord{}, nil
	}

	values, err := r.client.HMGet(ctx, threatsKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.ThreatRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.ThreatRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisStore) BlockIP(ctx context.Context, ip, reason string) error {
	data, err := json.Marshal(blockEntry{Reason: reason, BlockedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, blockedIPsKey, ip, string(data)).Err()
}

func (r *RedisStore) UnblockIP(ctx context.Context, ip string) error {
	return r.client.HDel(ctx, blockedIPsKey, ip).Err()
}

// BlockedIPs maps each persisted IP to its block reason
func (r *RedisStore) BlockedIPs(ctx context.Context) (map[string]string, error) {
	data, err := r.client.HGetAll(ctx, blockedIPsKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(data))
	for ip, raw := range data {
		var entry blockEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			out[ip] = raw
			continue
		}
		out[ip] = entry.Reason
	}
	return out, nil
}

// PublishAlert publishes an alert to subscribers
func (r *RedisStore) PublishAlert(ctx context.Context, alert models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, alertsChannel, string(data)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
