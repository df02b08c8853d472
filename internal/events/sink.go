// Package events delivers core notifications to interested collaborators.
// Delivery is fire-and-forget: the pipeline never waits on a sink and a
// failed delivery is logged, not surfaced.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agentmarket/internal/models"
)

type Sink interface {
	Publish(ctx context.Context, ev models.Event)
}

// LogSink writes events to the service log.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Publish(_ context.Context, ev models.Event) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Info("event",
		zap.String("type", ev.Type),
		zap.String("agent_id", ev.AgentID),
		zap.String("intent_id", ev.IntentID),
		zap.String("execution_id", ev.ExecutionID),
	)
}

// RedisSink publishes events on a Redis channel for external consumers
// (webhook dispatchers, analytics). Best effort only.
type RedisSink struct {
	Client  *redis.Client
	Channel string
	Logger  *zap.Logger
}

func (s *RedisSink) Publish(ctx context.Context, ev models.Event) {
	if s == nil || s.Client == nil {
		return
	}
	channel := s.Channel
	if channel == "" {
		channel = "agentmarket.events"
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Client.Publish(pubCtx, channel, raw).Err(); err != nil && s.Logger != nil {
		s.Logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Fanout delivers to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev models.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}
