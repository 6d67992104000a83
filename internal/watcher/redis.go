package watcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReloadChannel is the Pub/Sub channel that triggers a retrain.
const DefaultReloadChannel = "rental-ml:reload"

// RedisSubscriber triggers a reload for every message on a Pub/Sub channel.
type RedisSubscriber struct {
	client   *redis.Client
	channel  string
	onChange ChangeFunc

	minBackoff time.Duration
	maxBackoff time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	status Status
}

// NewRedisSubscriber creates a subscriber on an existing client.
func NewRedisSubscriber(client *redis.Client, channel string, onChange ChangeFunc) *RedisSubscriber {
	if channel == "" {
		channel = DefaultReloadChannel
	}
	return &RedisSubscriber{
		client:     client,
		channel:    channel,
		onChange:   onChange,
		minBackoff: 1 * time.Second,
		maxBackoff: 1 * time.Minute,
		backoff:    1 * time.Second,
		status:     Status{Source: "redis", Target: channel},
	}
}

// Status returns a copy of the current state.
func (s *RedisSubscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start subscribes until ctx is cancelled, reconnecting with exponential backoff.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	defer s.setRunning(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.subscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setRunning(false)
			s.backoff = min(s.backoff*2, s.maxBackoff)
			log.Printf("[監視] ⚠️ リロードチャネルの購読エラー（%v後に再試行）: %v", s.backoff, err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
				continue
			}
		}
		s.backoff = s.minBackoff
	}
}

func (s *RedisSubscriber) setRunning(v bool) {
	s.mu.Lock()
	s.status.Running = v
	s.status.Exists = v
	s.mu.Unlock()
}

func (s *RedisSubscriber) subscribe(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.backoff = s.minBackoff
	s.setRunning(true)
	log.Printf("[監視] 📡 リロードチャネル %s を購読しました", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			now := time.Now()
			s.mu.Lock()
			s.status.Changes++
			s.status.LastChange = &now
			s.status.LastCheck = &now
			s.mu.Unlock()
			log.Printf("[監視] 🔄 リロード要求を受信しました: %s", msg.Payload)
			if s.onChange != nil {
				s.onChange(ctx, "reload requested: "+msg.Payload)
			}
		}
	}
}

// PublishReload asks every subscribed server to retrain.
func PublishReload(ctx context.Context, client *redis.Client, channel, reason string) error {
	if channel == "" {
		channel = DefaultReloadChannel
	}
	if err := client.Publish(ctx, channel, reason).Err(); err != nil {
		return fmt.Errorf("failed to publish reload request: %w", err)
	}
	return nil
}
