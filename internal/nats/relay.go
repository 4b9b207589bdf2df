package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/metrics"
)

const backendName = "nats"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Relay publishes room events on per-user subjects and delivers every event
// seen on the wildcard subscription to the local hub.
type Relay struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	local  realtime.Deliverer
	logger *logger.Logger
	sub    *nats.Subscription
}

// NewRelay creates a relay over client. Events for user u travel on
// "<prefix>.<u>".
func NewRelay(client *Client, prefix string, local realtime.Deliverer, log *logger.Logger) *Relay {
	return &Relay{
		conn:   client.Conn(),
		pub:    client.Conn(),
		prefix: strings.TrimSuffix(prefix, "."),
		local:  local,
		logger: log.Named("nats-relay"),
	}
}

// Start subscribes to every room subject.
func (r *Relay) Start() error {
	sub, err := r.conn.Subscribe(WildcardSubject(r.prefix), r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to rooms: %w", err)
	}
	r.sub = sub
	r.logger.Info("relay subscribed", zap.String("subject", sub.Subject))
	return nil
}

// Close removes the subscription.
func (r *Relay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

// EmitToUser publishes an event for userID. When publishing fails the event is
// still delivered to connections on this instance.
func (r *Relay) EmitToUser(_ context.Context, userID, event string, payload any) {
	data, err := realtime.EncodeEnvelope(userID, event, payload)
	if err != nil {
		r.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	subject, err := Subject(r.prefix, userID)
	if err == nil {
		err = r.pub.Publish(subject, data)
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

func (r *Relay) handle(msg *nats.Msg) {
	env, err := realtime.DecodeEnvelope(msg.Data)
	if err != nil {
		r.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	r.local.Deliver(env.UserID, env.ToEvent())
}

// Subject returns the subject for a user's room.
func Subject(prefix, userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ". \t\r\n*>") {
		return "", errors.New("user id is not a valid subject token")
	}
	return prefix + "." + userID, nil
}

// WildcardSubject matches every room subject under prefix.
func WildcardSubject(prefix string) string {
	return prefix + ".*"
}
