package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

const redisChannelPrefix = "cityfam:conversation:"

// RedisBroker shares notifications between API instances over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, addr, password string, db int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, conversationID string) error {
	if err := b.client.Publish(ctx, redisChannelPrefix+conversationID, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", conversationID, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func(), error) {
	ps := b.client.Subscribe(ctx, redisChannelPrefix+conversationID)
	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", conversationID, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}
	return out, cancel, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
