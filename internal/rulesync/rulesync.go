// Package rulesync broadcasts rule-reload events across a fleet of mindns-go
// instances over Redis pub/sub, so that updating a rule file on one node can
// prompt the others to reload theirs.
package rulesync

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when the configured channel name is empty.
const DefaultChannel = "mindns:rules:reload"

// Sync wraps a Redis client used to announce and observe rule reloads.
type Sync struct {
	client  *redis.Client
	channel string
}

// New builds a client for the Redis instance at addr that announces and
// subscribes on channel (DefaultChannel if empty). No connection is made
// here; Ping checks that the instance is reachable.
func New(addr string, channel string) *Sync {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Sync{client: client, channel: channel}
}

// Ping checks connectivity to the configured Redis instance.
func (s *Sync) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Announce publishes a reload notification, prompting every other subscribed
// instance to reload its rule files from disk.
func (s *Sync) Announce(ctx context.Context) error {
	return s.client.Publish(ctx, s.channel, "reload").Err()
}

// Subscribe returns a channel of reload notifications. The caller is
// expected to reload its rule set on every message received.
func (s *Sync) Subscribe(ctx context.Context) <-chan *redis.Message {
	pubsub := s.client.Subscribe(ctx, s.channel)
	return pubsub.Channel()
}

// Close releases the underlying Redis client.
func (s *Sync) Close() error {
	return s.client.Close()
}
