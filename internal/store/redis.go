package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix  = "transcript:"
	DefaultRedisChannel = "transcripts"
	DefaultRedisTTL     = 24 * time.Hour
)

// RedisStore keeps one hash per session under prefix+sessionID and publishes
// every final transcript on a channel.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
}

// FinalMessage is the payload published for each final transcript.
type FinalMessage struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
}

// NewRedisStore wraps client. Empty prefix/channel and a zero ttl take defaults;
// a negative ttl disables expiry.
func NewRedisStore(client *redis.Client, prefix, channel string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, prefix: prefix, channel: channel, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url, prefix, channel string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), prefix, channel, ttl), nil
}

// Key returns the hash key for a session.
func (rs *RedisStore) Key(sessionID uuid.UUID) string {
	return rs.prefix + sessionID.String()
}

func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// PublishFinal records the latest final text on the session hash and
// publishes it to subscribers.
func (rs *RedisStore) PublishFinal(ctx context.Context, sessionID uuid.UUID, text string) error {
	key := rs.Key(sessionID)
	payload, err := json.Marshal(FinalMessage{
		SessionID: sessionID.String(),
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, key, "last_final", text)
	pipe.HIncrBy(ctx, key, "final_count", 1)
	rs.expire(ctx, pipe, key)
	pipe.Publish(ctx, rs.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

func (rs *RedisStore) Save(ctx context.Context, rec Record) error {
	key := rs.Key(rec.SessionID)

	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"session_id":  rec.SessionID.String(),
		"provider":    rec.Provider,
		"language":    rec.Language,
		"sample_rate": strconv.Itoa(rec.SampleRate),
		"start_time":  rec.StartTime.UTC().Format(time.RFC3339Nano),
		"end_time":    rec.EndTime.UTC().Format(time.RFC3339Nano),
		"duration_ms": strconv.FormatInt(rec.Duration().Milliseconds(), 10),
		"transcript":  rec.Transcript,
	})
	rs.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	return nil
}

// Get returns the stored hash for a session.
func (rs *RedisStore) Get(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	key := rs.Key(sessionID)
	vals, err := rs.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}
	return vals, nil
}

func (rs *RedisStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if rs.ttl > 0 {
		pipe.Expire(ctx, key, rs.ttl)
	}
}
