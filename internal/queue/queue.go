// Package queue runs named Redis-backed job queues with bounded worker pools.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default queue names.
const (
	DefaultSearchQueue  = "reelscout:search"
	DefaultMetricsQueue = "reelscout:metrics"
)

// ErrEmpty is returned by Backend.Pop when no job arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Job is the envelope stored on a queue.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s job %s: %w", j.Queue, j.ID, err)
	}
	return nil
}

// SearchPayload asks a worker to run one keyword search.
type SearchPayload struct {
	TaskID   string `json:"taskId"`
	HotWord  string `json:"hotWord"`
	Platform string `json:"platform"`
}

// MetricsPayload asks a worker to refresh the metrics of one video.
type MetricsPayload struct {
	VideoID string `json:"videoId"`
}

// Backend stores raw job envelopes.
type Backend interface {
	Push(ctx context.Context, queue string, data []byte) error
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Defer(ctx context.Context, queue string, data []byte, at time.Time) error
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)
}

// RedisBackend keeps ready jobs in a list and delayed jobs in a sorted set
// scored by their due time in milliseconds.
type RedisBackend struct {
	client redis.Cmdable
}

// NewRedisBackend wraps a go-redis client.
func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func delayedKey(queue string) string {
	return queue + ":delayed"
}

// Push appends data to the tail of the ready list.
func (b *RedisBackend) Push(ctx context.Context, queue string, data []byte) error {
	if err := b.client.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest ready job.
func (b *RedisBackend) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", queue, err)
	}
	if len(res) != 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// Defer parks data until at.
func (b *RedisBackend) Defer(ctx context.Context, queue string, data []byte, at time.Time) error {
	member := redis.Z{Score: float64(at.UnixMilli()), Member: string(data)}
	if err := b.client.ZAdd(ctx, delayedKey(queue), member).Err(); err != nil {
		return fmt.Errorf("defer on %s: %w", queue, err)
	}
	return nil
}

// PromoteDue moves delayed jobs that are due onto the ready list. A job is
// promoted by whichever caller removes it from the sorted set first.
func (b *RedisBackend) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	key := delayedKey(queue)
	due, err := b.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due jobs on %s: %w", queue, err)
	}

	promoted := 0
	for _, member := range due {
		removed, err := b.client.ZRem(ctx, key, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim due job on %s: %w", queue, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.RPush(ctx, queue, member).Err(); err != nil {
			return promoted, fmt.Errorf("promote due job on %s: %w", queue, err)
		}
		promoted++
	}
	return promoted, nil
}

// Producer enqueues jobs.
type Producer struct {
	backend Backend
	Now     func() time.Time
}

// NewProducer constructs a Producer on backend.
func NewProducer(backend Backend) *Producer {
	return &Producer{backend: backend, Now: time.Now}
}

// Enqueue wraps payload in a fresh envelope and appends it to queue.
func (p *Producer) Enqueue(ctx context.Context, queue string, payload any) (string, error) {
	if p == nil || p.backend == nil {
		return "", errors.New("queue producer not configured")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", queue, err)
	}

	job := Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    raw,
		EnqueuedAt: p.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode %s job: %w", queue, err)
	}

	if err := p.backend.Push(ctx, queue, data); err != nil {
		return "", err
	}
	return job.ID, nil
}
