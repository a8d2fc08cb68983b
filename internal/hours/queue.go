package hours

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CallbackRequest is queued for every call that arrives outside business hours.
type CallbackRequest struct {
	CallID     string    `json:"call_id"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

// CallbackQueue stores callback offers for the follow-up workflow.
type CallbackQueue interface {
	Enqueue(ctx context.Context, req CallbackRequest) error
	Len(ctx context.Context) (int64, error)
}

const DefaultCallbackKey = "voice-gateway:callbacks"

type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisCallbackQueue pushes JSON-encoded requests onto a Redis list.
type RedisCallbackQueue struct {
	rdb listClient
	key string
}

func NewRedisCallbackQueue(rdb redis.Cmdable, key string) *RedisCallbackQueue {
	if key == "" {
		key = DefaultCallbackKey
	}
	return &RedisCallbackQueue{rdb: rdb, key: key}
}

func (q *RedisCallbackQueue) Enqueue(ctx context.Context, req CallbackRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("hours: enqueue callback: %w", err)
	}
	return nil
}

func (q *RedisCallbackQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// MemoryCallbackQueue is used in tests and when Redis is not configured.
type MemoryCallbackQueue struct {
	mu   sync.Mutex
	reqs []CallbackRequest
}

func NewMemoryCallbackQueue() *MemoryCallbackQueue { return &MemoryCallbackQueue{} }

func (q *MemoryCallbackQueue) Enqueue(ctx context.Context, req CallbackRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *MemoryCallbackQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.reqs)), nil
}

func (q *MemoryCallbackQueue) Requests() []CallbackRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CallbackRequest, len(q.reqs))
	copy(out, q.reqs)
	return out
}
