package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	queuePrefix  = "cmdproxy:queue:"
	resultPrefix = "cmdproxy:result:"
	notifyPrefix = "cmdproxy:notify:"
)

// RedisBroker is the production Broker, grounded in the teacher's
// internal/queue list-based notifier (LPUSH/BRPOP for at-least-once
// delivery) combined with its pub/sub notifier (PUBLISH/SUBSCRIBE) to wake
// a blocked Wait promptly instead of polling.
type RedisBroker struct {
	client    *redis.Client
	resultTTL time.Duration
	pollTick  time.Duration
}

// NewRedisBroker connects to redisURL (e.g. "redis://localhost:6379/0").
func NewRedisBroker(redisURL string, resultTTL, pollTick time.Duration) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis url: %w", err)
	}
	return &RedisBroker{
		client:    redis.NewClient(opt),
		resultTTL: resultTTL,
		pollTick:  pollTick,
	}, nil
}

func (b *RedisBroker) SendTask(ctx context.Context, queue, payload string) (string, error) {
	resultID := uuid.New().String()
	entry := fmt.Sprintf("%s\x00%s", resultID, payload)

	if err := b.client.LPush(ctx, queuePrefix+queue, entry).Err(); err != nil {
		return "", fmt.Errorf("broker: lpush %s: %w", queue, err)
	}
	return resultID, nil
}

func (b *RedisBroker) Wait(ctx context.Context, resultID string) (string, error) {
	sub := b.client.Subscribe(ctx, notifyPrefix+resultID)
	defer sub.Close()
	ch := sub.Channel()

	if v, err := b.client.Get(ctx, resultPrefix+resultID).Result(); err == nil {
		return v, nil
	} else if err != redis.Nil {
		return "", fmt.Errorf("broker: get result %s: %w", resultID, err)
	}

	ticker := time.NewTicker(b.pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ch:
			v, err := b.client.Get(ctx, resultPrefix+resultID).Result()
			if err == nil {
				return v, nil
			}
			if err != redis.Nil {
				return "", fmt.Errorf("broker: get result %s: %w", resultID, err)
			}
		case <-ticker.C:
			v, err := b.client.Get(ctx, resultPrefix+resultID).Result()
			if err == nil {
				return v, nil
			}
			if err != redis.Nil {
				return "", fmt.Errorf("broker: get result %s: %w", resultID, err)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (b *RedisBroker) Consume(ctx context.Context, queues []string) (<-chan Task, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queuePrefix + q
	}

	out := make(chan Task)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			res, err := b.client.BRPop(ctx, 1*time.Second, keys...).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				continue
			}
			// res is [key, value]
			queue := res[0][len(queuePrefix):]
			entry := res[1]

			resultID, payload, ok := splitEntry(entry)
			if !ok {
				continue
			}

			select {
			case out <- Task{ResultID: resultID, Queue: queue, Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Complete(ctx context.Context, resultID, payload string) error {
	if err := b.client.Set(ctx, resultPrefix+resultID, payload, b.resultTTL).Err(); err != nil {
		return fmt.Errorf("broker: set result %s: %w", resultID, err)
	}
	if err := b.client.Publish(ctx, notifyPrefix+resultID, "1").Err(); err != nil {
		return fmt.Errorf("broker: publish result %s: %w", resultID, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func splitEntry(entry string) (resultID, payload string, ok bool) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == 0 {
			return entry[:i], entry[i+1:], true
		}
	}
	return "", "", false
}
