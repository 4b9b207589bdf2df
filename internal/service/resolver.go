package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/store"
	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/metrics"
)

// Target names where a message goes: an existing conversation or a counterpart user.
type Target struct {
	ConversationID string
	ReceiverID     string
}

// Resolver finds or creates conversations.
type Resolver struct {
	conversations ConversationRepository
	users         Directory
	emitter       Emitter
	present       presenter
	logger        *logger.Logger
	opts          options
}

// NewResolver creates a conversation resolver.
func NewResolver(
	conversations ConversationRepository,
	messages MessageRepository,
	users Directory,
	emitter Emitter,
	log *logger.Logger,
	opts ...Option,
) *Resolver {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Resolver{
		conversations: conversations,
		users:         users,
		emitter:       emitter,
		present:       presenter{users: users, messages: messages},
		logger:        log,
		opts:          buildOptions(opts),
	}
}

// Participant loads a conversation and checks that userID belongs to it.
func (r *Resolver) Participant(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := r.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("conversation not found")
		}
		return nil, internalError("failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, forbiddenError("you are not a participant of this conversation")
	}
	return conv, nil
}

// ResolveOrCreate returns the conversation a sender writes into. With a
// conversation id the sender must be a participant. With a receiver id the
// active direct conversation of the pair is returned, created when missing.
// The bool reports whether a conversation was created.
func (r *Resolver) ResolveOrCreate(ctx context.Context, senderID string, target Target) (conv *model.Conversation, created bool, err error) {
	ctx, span := tracer.Start(ctx, "Resolver.ResolveOrCreate")
	defer func() { endSpan(span, err) }()

	if target.ConversationID != "" {
		conv, err := r.Participant(ctx, senderID, target.ConversationID)
		return conv, false, err
	}

	receiverID := strings.TrimSpace(target.ReceiverID)
	if receiverID == "" {
		return nil, false, validationError("receiver_id or conversation_id is required")
	}
	if receiverID == senderID {
		return nil, false, validationError("cannot start a conversation with yourself")
	}

	key := model.DirectKey(senderID, receiverID)
	span.SetAttributes(attribute.String("direct_key", key))

	existing, err := r.conversations.FindActiveDirect(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, internalError("failed to look up conversation", err)
	}

	users, err := r.present.lookup(ctx, []string{receiverID})
	if err != nil {
		return nil, false, err
	}
	if _, ok := users[receiverID]; !ok {
		return nil, false, validationError("receiver does not exist")
	}

	conv = r.newConversation(model.ConversationDirect, "", []string{senderID, receiverID}, nil)
	if err := r.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent first message; use the winner.
			winner, ferr := r.conversations.FindActiveDirect(ctx, key)
			if ferr != nil {
				return nil, false, internalError("failed to load concurrent conversation", ferr)
			}
			return winner, false, nil
		}
		return nil, false, internalError("failed to create conversation", err)
	}

	metrics.ConversationsTotal.WithLabelValues(string(model.ConversationDirect)).Inc()
	r.logger.Info("direct conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
	)
	return conv, true, nil
}

// CreateExplicit creates a conversation from a client request. A direct pair
// that already has an active conversation is a conflict carrying the existing
// record.
func (r *Resolver) CreateExplicit(ctx context.Context, creatorID string, req *model.CreateConversationRequest) (conv *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "Resolver.CreateExplicit")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	participants := dedupe(req.Participants)
	if !contains(participants, creatorID) {
		participants = append(participants, creatorID)
	}

	users, err := r.present.lookup(ctx, participants)
	if err != nil {
		return nil, err
	}
	for _, id := range participants {
		if _, ok := users[id]; !ok {
			return nil, validationError("some participants do not exist")
		}
	}

	name := strings.TrimSpace(req.Name)
	switch req.Type {
	case model.ConversationDirect:
		if len(participants) != 2 {
			return nil, validationError("a direct conversation needs exactly two participants")
		}
		if existing, err := r.conversations.FindActiveDirect(ctx, model.DirectKey(participants[0], participants[1])); err == nil {
			return nil, r.conflict(ctx, existing)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, internalError("failed to look up conversation", err)
		}
		// Direct conversations are unnamed.
		name = ""
	case model.ConversationGroup:
		if len(participants) < 2 {
			return nil, validationError("a group conversation needs at least two participants")
		}
		if name == "" {
			name = fmt.Sprintf("Group of %d", len(participants))
		}
	}

	creator := creatorID
	conv = r.newConversation(req.Type, name, participants, &creator)
	if err := r.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, ferr := r.conversations.FindActiveDirect(ctx, *conv.DirectKey)
			if ferr != nil {
				return nil, internalError("failed to load concurrent conversation", ferr)
			}
			return nil, r.conflict(ctx, existing)
		}
		return nil, internalError("failed to create conversation", err)
	}

	metrics.ConversationsTotal.WithLabelValues(string(conv.Type)).Inc()
	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.Int("participants", len(participants)),
		zap.String("created_by", creatorID),
	)

	if err := r.present.conversationForDisplay(ctx, conv); err != nil {
		return nil, err
	}
	emitTo(ctx, r.emitter, conv.OtherParticipants(creatorID), model.EventConversationCreated, *conv)
	return conv, nil
}

func (r *Resolver) conflict(ctx context.Context, existing *model.Conversation) error {
	if err := r.present.conversationForDisplay(ctx, existing); err != nil {
		return err
	}
	return conflictError("a direct conversation between these users already exists", existing)
}

func (r *Resolver) newConversation(typ model.ConversationType, name string, participants []string, createdBy *string) *model.Conversation {
	now := r.opts.now()
	conv := &model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Name:           name,
		Type:           typ,
		Active:         true,
		CreatedBy:      createdBy,
		LastMessageAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
		ParticipantIDs: participants,
	}
	if typ == model.ConversationDirect {
		key := model.DirectKey(participants[0], participants[1])
		conv.DirectKey = &key
	}
	return conv
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
