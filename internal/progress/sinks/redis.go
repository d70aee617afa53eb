package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/ltphuoc/media-scraper/internal/progress"
)

// Publisher is the slice of the go-redis client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redisv8.IntCmd
}

// RedisSink publishes every event as JSON on a pub/sub channel so dashboards
// and other processes can follow job progress live.
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink builds a sink publishing on channel.
func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Consume publishes each event; individual failures are collected and
// returned together after the whole batch was attempted.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		payload, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event: %w", err))
			continue
		}
		if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the client is owned by the caller.
func (s *RedisSink) Close(context.Context) error {
	return nil
}
