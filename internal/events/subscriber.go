package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

// Consumer is a long-running event loop that returns when ctx ends.
type Consumer interface {
	Start(ctx context.Context) error
}

// Subscriber reads a Redis stream through a consumer group.
//
// A message is acknowledged when its handler succeeds or reports it
// unprocessable. Any other failure leaves it pending; once it has been idle
// for ClaimIdle the subscriber claims it again and retries it.
type Subscriber struct {
	client    *redis.Client
	cfg       SubscriberConfig
	lastClaim time.Time
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// ClaimIdle is how long a failed message stays pending before a retry.
	ClaimIdle time.Duration
	Logger    *slog.Logger
}

func NewSubscriber(client *redis.Client, cfg SubscriberConfig) *Subscriber {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.ClaimIdle == 0 {
		cfg.ClaimIdle = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Subscriber{client: client, cfg: cfg}
}

func (s *Subscriber) Start(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	log := s.cfg.Logger.With("stream", s.cfg.Stream, "group", s.cfg.Group, "consumer", s.cfg.Consumer)
	log.Info("subscriber started")

	for ctx.Err() == nil {
		if time.Since(s.lastClaim) >= s.cfg.ClaimIdle {
			if err := s.retryPending(ctx); err != nil && ctx.Err() == nil {
				log.Error("pending claim failed", "err", err)
			}
			s.lastClaim = time.Now()
		}
		if err := s.readNew(ctx); err != nil && ctx.Err() == nil {
			log.Error("stream read failed", "err", err)
			sleep(ctx, time.Second)
		}
	}
	log.Info("subscriber stopping")
	return ctx.Err()
}

// retryPending takes over messages left unacknowledged by any consumer of the
// group, including this one before a restart.
func (s *Subscriber) retryPending(ctx context.Context) error {
	start := "0-0"
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.cfg.Stream,
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			MinIdle:  s.cfg.ClaimIdle,
			Start:    start,
			Count:    s.cfg.BatchSize,
		}).Result()
		if err != nil {
			return err
		}
		s.handleBatch(ctx, messages)
		if next == "0-0" || len(messages) == 0 {
			return nil
		}
		start = next
	}
}

func (s *Subscriber) readNew(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.BlockDuration,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, stream := range streams {
		s.handleBatch(ctx, stream.Messages)
	}
	return nil
}

func (s *Subscriber) handleBatch(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		err := s.handle(ctx, message)
		if !settled(s.cfg.Logger, err, "message_id", message.ID) {
			continue
		}
		if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, message.ID).Err(); err != nil {
			s.cfg.Logger.Error("event ack failed", "message_id", message.ID, "err", err)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, message redis.XMessage) error {
	event, err := decodeStreamMessage(message.Values)
	if err != nil {
		return err
	}
	return s.cfg.Handler(ctx, event)
}

// decodeStreamMessage reads the JSON event stored under the "event" field.
func decodeStreamMessage(values map[string]any) (Event, error) {
	var event Event
	raw, ok := values["event"].(string)
	if !ok {
		return event, Unprocessable(errors.New("message has no event field"))
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, Unprocessable(fmt.Errorf("failed to unmarshal event: %w", err))
	}
	if event.Type == "" {
		return event, Unprocessable(errors.New("event has no type"))
	}
	return event, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
