// Package redisbus relays room events between instances over Redis pub/sub.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/metrics"
)

const backendName = "redis"

// Connect parses a redis:// URL and checks the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay publishes room events on per-user channels and delivers everything
// matching the room pattern to the local hub.
type Relay struct {
	client *redis.Client
	pub    publisher
	prefix string
	local  realtime.Deliverer
	logger *logger.Logger

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRelay creates a relay. Events for user u travel on "<prefix>:<u>".
func NewRelay(client *redis.Client, prefix string, local realtime.Deliverer, log *logger.Logger) *Relay {
	return &Relay{
		client: client,
		pub:    client,
		prefix: strings.TrimSuffix(prefix, ":"),
		local:  local,
		logger: log.Named("redis-relay"),
	}
}

// Start subscribes to the room pattern and delivers messages until Close.
func (r *Relay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, Pattern(r.prefix))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to rooms: %w", err)
	}
	r.pubsub = pubsub

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range pubsub.Channel() {
			r.handle(msg.Channel, msg.Payload)
		}
	}()

	r.logger.Info("relay subscribed", zap.String("pattern", Pattern(r.prefix)))
	return nil
}

// Close ends the subscription and waits for the delivery loop to exit.
func (r *Relay) Close() error {
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.wg.Wait()
	return err
}

// EmitToUser publishes an event for userID, falling back to local delivery
// when Redis is unavailable.
func (r *Relay) EmitToUser(ctx context.Context, userID, event string, payload any) {
	data, err := realtime.EncodeEnvelope(userID, event, payload)
	if err != nil {
		r.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	channel, err := Channel(r.prefix, userID)
	if err == nil {
		err = r.pub.Publish(context.WithoutCancel(ctx), channel, data).Err()
	}
	if err != nil {
		metrics.RelayPublishErrors.WithLabelValues(backendName).Inc()
		r.logger.Warn("failed to publish event, delivering locally",
			zap.String("event", event),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		r.local.Deliver(userID, realtime.Event{Event: event, Data: payload})
	}
}

func (r *Relay) handle(channel, payload string) {
	env, err := realtime.DecodeEnvelope([]byte(payload))
	if err != nil {
		r.logger.Warn("dropping malformed event", zap.String("channel", channel), zap.Error(err))
		return
	}
	r.local.Deliver(env.UserID, env.ToEvent())
}

// Channel returns the pub/sub channel for a user's room.
func Channel(prefix, userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, "*?[] \t\r\n") {
		return "", errors.New("user id is not a valid channel name")
	}
	return prefix + ":" + userID, nil
}

// Pattern matches every room channel under prefix.
func Pattern(prefix string) string {
	return prefix + ":*"
}
