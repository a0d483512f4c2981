package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

const memoryStream = "genagents:memories"

// MessageBus carries memory events over a Redis Stream.
type MessageBus struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

var _ memory.Publisher = (*MessageBus)(nil)

// NewMessageBus creates a Redis-backed message bus.
func NewMessageBus(ctx context.Context, redisURL string, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &MessageBus{rdb: rdb, stream: memoryStream, logger: logger}, nil
}

// Delivery is an event read by a consumer group member. It must be acked.
type Delivery struct {
	Event *MemoryEvent
	msgID string
}

// PublishMemory appends rec to the memory stream.
func (mb *MessageBus) PublishMemory(ctx context.Context, rec *memory.Record) error {
	return mb.Publish(ctx, NewMemoryEvent(rec))
}

// Publish appends ev to the memory stream.
func (mb *MessageBus) Publish(ctx context.Context, ev *MemoryEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: mb.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", mb.stream, err)
	}

	mb.logger.Debug("published memory event",
		zap.String("memory", ev.ID),
		zap.String("agent", ev.AgentID))
	return nil
}

// Subscribe joins consumer group and streams new events until ctx is done.
// Each event goes to one member of the group.
func (mb *MessageBus) Subscribe(ctx context.Context, group, consumer string) (<-chan *Delivery, error) {
	err := mb.rdb.XGroupCreateMkStream(ctx, mb.stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", group, err)
	}

	ch := make(chan *Delivery, 16)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			results, err := mb.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{mb.stream, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					mb.logger.Warn("read memory stream", zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					d, ok := mb.decode(msg)
					if !ok {
						mb.rdb.XAck(ctx, mb.stream, group, msg.ID)
						continue
					}
					select {
					case ch <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func (mb *MessageBus) decode(msg redis.XMessage) (*Delivery, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		mb.logger.Warn("memory event without data", zap.String("id", msg.ID))
		return nil, false
	}
	var ev MemoryEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		mb.logger.Warn("undecodable memory event", zap.String("id", msg.ID), zap.Error(err))
		return nil, false
	}
	return &Delivery{Event: &ev, msgID: msg.ID}, true
}

// Ack marks d as processed for group.
func (mb *MessageBus) Ack(ctx context.Context, group string, d *Delivery) error {
	return mb.rdb.XAck(ctx, mb.stream, group, d.msgID).Err()
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}
