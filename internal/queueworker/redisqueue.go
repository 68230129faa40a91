package queueworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotificationQueue is the development NotificationQueue backend,
// grounded on this codebase's Redis job queue (BLPop-based blocking
// dequeue) generalized from a job envelope to an S3 notification.
type RedisNotificationQueue struct {
	client *redis.Client
	key    string
}

func NewRedisNotificationQueue(client *redis.Client, key string) *RedisNotificationQueue {
	return &RedisNotificationQueue{client: client, key: key}
}

func (q *RedisNotificationQueue) Receive(ctx context.Context) (*Message, error) {
	result, err := q.client.BLPop(ctx, 20*time.Second, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queueworker: redis blpop: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("queueworker: unmarshal notification: %w", err)
	}
	return &msg, nil
}

// Delete is a no-op: BLPop already removed the message from the list.
func (q *RedisNotificationQueue) Delete(ctx context.Context, handle string) error {
	return nil
}

// RedisStartQueue is the development StartQueue backend.
type RedisStartQueue struct {
	client *redis.Client
	key    string
}

func NewRedisStartQueue(client *redis.Client, key string) *RedisStartQueue {
	return &RedisStartQueue{client: client, key: key}
}

func (q *RedisStartQueue) Enqueue(ctx context.Context, msg StartMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queueworker: marshal start message: %w", err)
	}
	return q.client.RPush(ctx, q.key, string(body)).Err()
}

// RedisStartSource is the development StartSource backend, the consuming
// side of the same list RedisStartQueue pushes to.
type RedisStartSource struct {
	client *redis.Client
	key    string
}

func NewRedisStartSource(client *redis.Client, key string) *RedisStartSource {
	return &RedisStartSource{client: client, key: key}
}

func (q *RedisStartSource) Receive(ctx context.Context) (*StartMessage, string, error) {
	result, err := q.client.BLPop(ctx, 20*time.Second, q.key).Result()
	if err == redis.Nil {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("queueworker: redis blpop: %w", err)
	}
	if len(result) < 2 {
		return nil, "", nil
	}

	var msg StartMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, "", fmt.Errorf("queueworker: unmarshal start message: %w", err)
	}
	return &msg, "", nil
}

// Delete is a no-op: BLPop already removed the message from the list.
func (q *RedisStartSource) Delete(ctx context.Context, handle string) error {
	return nil
}

var _ StartSource = (*RedisStartSource)(nil)
