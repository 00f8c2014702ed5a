package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisBackend is the remote primary. Redis is internally concurrent, so
// unlike boltBackend this has no writer-serialization wrapper — the spec
// only requires the fallback be single-writer-serialized.
type redisBackend struct {
	client *redis.Client
	cap    int
}

func openRedis(url string, cap int) (*redisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse primary store url: %w", err)
	}
	return &redisBackend{client: redis.NewClient(opts), cap: cap}, nil
}

func conversationListKey(conversationID string) string {
	return "conv:" + conversationID
}

func (r *redisBackend) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// append pushes rec onto the conversation's list and trims it down to
// cap from the tail, keeping the newest entries — Redis' own equivalent
// of boltBackend's prune-in-the-same-write.
func (r *redisBackend) append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, conversationListKey(rec.ConversationID), payload)
	pipe.LTrim(ctx, conversationListKey(rec.ConversationID), int64(-r.cap), -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisBackend) tail(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	raw, err := r.client.LRange(ctx, conversationListKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, s := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *redisBackend) put(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, "kv:"+key, value, 0).Err()
}

func (r *redisBackend) get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, "kv:"+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *redisBackend) delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, "kv:"+key).Err()
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
