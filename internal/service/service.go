// Package service provides the conversation and messaging business logic.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/localcity-market/messaging/internal/model"
)

var tracer = otel.Tracer("github.com/localcity-market/messaging/internal/service")

// ConversationRepository persists conversations.
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	FindActiveDirect(ctx context.Context, directKey string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]model.Conversation, int64, error)
	IDsForUser(ctx context.Context, userID string) ([]string, error)
	Summaries(ctx context.Context, ids []string) (map[string]model.ConversationSummary, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
	Deactivate(ctx context.Context, conversationID string, at time.Time) error
	DeactivateIfEmpty(ctx context.Context, conversationID string, at time.Time) (bool, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	GetMany(ctx context.Context, ids []string) (map[string]model.Message, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, int64, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	Search(ctx context.Context, conversationIDs []string, query string, offset, limit int) ([]model.Message, int64, error)
}

// Directory resolves user ids to users.
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]model.User, error)
}

// Emitter pushes an event into a user's personal room. Delivery is best
// effort and never reports failure.
type Emitter interface {
	EmitToUser(ctx context.Context, userID, event string, payload any)
}

type nopEmitter struct{}

func (nopEmitter) EmitToUser(context.Context, string, string, any) {}

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func emitTo(ctx context.Context, e Emitter, userIDs []string, event string, payload any) {
	for _, id := range userIDs {
		e.EmitToUser(ctx, id, event, payload)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

// normalizePage defaults page and limit. A limit above max is rejected so the
// reported page count always matches the limit the caller asked for.
func normalizePage(page, limit, def, max int) (int, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > max {
		return 0, 0, validationError(fmt.Sprintf("limit must be at most %d", max))
	}
	return page, limit, nil
}
