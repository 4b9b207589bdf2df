package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/store"
	"github.com/localcity-market/messaging/pkg/logger"
	"github.com/localcity-market/messaging/pkg/metrics"
)

const (
	defaultMessagePageSize = 50
	defaultSearchPageSize  = 20
	maxPageSize            = 100
)

// MessagingService handles message and conversation operations for
// authenticated users.
type MessagingService struct {
	resolver      *Resolver
	conversations ConversationRepository
	messages      MessageRepository
	emitter       Emitter
	present       presenter
	logger        *logger.Logger
	opts          options
}

// NewMessagingService creates a messaging service.
func NewMessagingService(
	resolver *Resolver,
	conversations ConversationRepository,
	messages MessageRepository,
	users Directory,
	emitter Emitter,
	log *logger.Logger,
	opts ...Option,
) *MessagingService {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &MessagingService{
		resolver:      resolver,
		conversations: conversations,
		messages:      messages,
		emitter:       emitter,
		present:       presenter{users: users, messages: messages},
		logger:        log,
		opts:          buildOptions(opts),
	}
}

// SendMessage stores a message and pushes it to the other participants.
func (s *MessagingService) SendMessage(ctx context.Context, senderID string, req *model.SendMessageRequest) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.SendMessage")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	conv, created, err := s.resolver.ResolveOrCreate(ctx, senderID, Target{
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("conversation_id", conv.ID),
		attribute.Bool("conversation_created", created),
	)

	if !conv.Active {
		return nil, validationError("conversation is not active")
	}

	var receiverID *string
	if conv.Type == model.ConversationDirect {
		others := conv.OtherParticipants(senderID)
		if len(others) != 1 {
			return nil, internalError("direct conversation has an invalid participant set", nil)
		}
		if req.ReceiverID != "" && req.ReceiverID != others[0] {
			return nil, validationError("receiver_id does not match the conversation")
		}
		receiverID = &others[0]
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageText
	}

	now := s.opts.now()
	msg = &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Content:        req.Content,
		Image:          req.Image,
		Type:           msgType,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		if created {
			s.abandon(ctx, conv.ID)
		}
		return nil, internalError("failed to save message", err)
	}
	if err := s.conversations.SetLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		s.discard(ctx, msg.ID)
		if created {
			s.abandon(ctx, conv.ID)
		}
		return nil, internalError("failed to update last message", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Type)).Inc()

	s.displaySender(ctx, msg)

	recipients := conv.OtherParticipants(senderID)
	if created {
		conv.LastMessageID = &msg.ID
		conv.LastMessageAt = msg.CreatedAt
		if err := s.present.conversationForDisplay(ctx, conv); err == nil {
			emitTo(ctx, s.emitter, recipients, model.EventConversationCreated, *conv)
		}
	}
	emitTo(ctx, s.emitter, recipients, model.EventNewMessage, *msg)
	return msg, nil
}

// discard removes a stored message whose send is being reported as failed,
// so a client retry does not leave a duplicate behind.
func (s *MessagingService) discard(ctx context.Context, messageID string) {
	if err := s.messages.Delete(context.WithoutCancel(ctx), messageID); err != nil {
		s.logger.Error("failed to discard message of failed send",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// abandon deactivates a conversation created for a message that failed to
// persist. A concurrent sender may already have written into it; then it stays.
func (s *MessagingService) abandon(ctx context.Context, conversationID string) {
	done, err := s.conversations.DeactivateIfEmpty(context.WithoutCancel(ctx), conversationID, s.opts.now())
	if err != nil {
		s.logger.Error("failed to deactivate abandoned conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	if done {
		s.logger.Info("abandoned empty conversation", zap.String("conversation_id", conversationID))
	}
}

// displaySender resolves the sender of a message that is already stored.
// A lookup failure leaves an id-only summary rather than failing the write.
func (s *MessagingService) displaySender(ctx context.Context, msg *model.Message) {
	if err := s.present.messageForDisplay(ctx, msg); err != nil {
		s.logger.Warn("failed to resolve sender",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		msg.Sender = &model.UserSummary{ID: msg.SenderID}
	}
}

// ListMessages returns one page of a conversation oldest-first. Opening the
// conversation marks everything the requester received in it as read.
func (s *MessagingService) ListMessages(ctx context.Context, requesterID, conversationID string, page, limit int) (resp *model.ListMessagesResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.ListMessages")
	defer func() { endSpan(span, err) }()

	conv, err := s.resolver.Participant(ctx, requesterID, conversationID)
	if err != nil {
		return nil, err
	}
	page, limit, err = normalizePage(page, limit, defaultMessagePageSize, maxPageSize)
	if err != nil {
		return nil, err
	}

	if _, err := s.markRead(ctx, conv, requesterID); err != nil {
		return nil, err
	}

	msgs, total, err := s.messages.ListByConversation(ctx, conv.ID, model.Offset(page, limit), limit)
	if err != nil {
		return nil, internalError("failed to list messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := s.present.messagesForDisplay(ctx, msgs); err != nil {
		return nil, err
	}

	return &model.ListMessagesResponse{
		Messages:   msgs,
		Pagination: model.NewPagination(page, limit, total),
	}, nil
}

// UpdateMessage replaces the content of a message the requester sent.
func (s *MessagingService) UpdateMessage(ctx context.Context, requesterID, messageID string, req *model.UpdateMessageRequest) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.UpdateMessage")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	msg, err = s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	if err := s.messages.UpdateContent(ctx, msg.ID, req.Content, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("message not found")
		}
		return nil, internalError("failed to update message", err)
	}
	msg.Content = req.Content
	msg.Folded = model.FoldContent(req.Content)
	msg.UpdatedAt = now

	s.displaySender(ctx, msg)
	s.emitToConversation(ctx, msg.ConversationID, requesterID, model.EventMessageUpdated, *msg)
	return msg, nil
}

// DeleteMessage hard-deletes a message the requester sent. The conversation's
// last-message pointer is left as is.
func (s *MessagingService) DeleteMessage(ctx context.Context, requesterID, messageID string) (err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.DeleteMessage")
	defer func() { endSpan(span, err) }()

	msg, err := s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, msg.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("message not found")
		}
		return internalError("failed to delete message", err)
	}

	s.emitToConversation(ctx, msg.ConversationID, requesterID, model.EventMessageDeleted, model.MessageDeletedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

func (s *MessagingService) ownMessage(ctx context.Context, requesterID, messageID string) (*model.Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("message not found")
		}
		return nil, internalError("failed to load message", err)
	}
	if msg.SenderID != requesterID {
		return nil, forbiddenError("you can only modify your own messages")
	}
	return msg, nil
}

// MarkRead marks every unread message from others in a conversation as read.
func (s *MessagingService) MarkRead(ctx context.Context, requesterID, conversationID string) (resp *model.MarkReadResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.MarkRead")
	defer func() { endSpan(span, err) }()

	conv, err := s.resolver.Participant(ctx, requesterID, conversationID)
	if err != nil {
		return nil, err
	}
	n, err := s.markRead(ctx, conv, requesterID)
	if err != nil {
		return nil, err
	}
	return &model.MarkReadResponse{ModifiedCount: n}, nil
}

func (s *MessagingService) markRead(ctx context.Context, conv *model.Conversation, readerID string) (int64, error) {
	n, err := s.messages.MarkRead(ctx, conv.ID, readerID)
	if err != nil {
		return 0, internalError("failed to mark messages as read", err)
	}
	if n > 0 {
		emitTo(ctx, s.emitter, conv.OtherParticipants(readerID), model.EventMessagesRead, model.MessagesReadEvent{
			ConversationID: conv.ID,
			ReaderID:       readerID,
			ModifiedCount:  n,
		})
	}
	return n, nil
}

// UnreadCount counts unread direct messages addressed to the requester.
func (s *MessagingService) UnreadCount(ctx context.Context, requesterID string) (resp *model.UnreadCountResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.UnreadCount")
	defer func() { endSpan(span, err) }()

	n, err := s.messages.CountUnread(ctx, requesterID)
	if err != nil {
		return nil, internalError("failed to count unread messages", err)
	}
	return &model.UnreadCountResponse{UnreadCount: n}, nil
}

// SearchMessages finds messages whose content contains the query, within one
// conversation or across every conversation the requester belongs to.
func (s *MessagingService) SearchMessages(ctx context.Context, requesterID string, req *model.SearchMessagesRequest, page, limit int) (resp *model.ListMessagesResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.SearchMessages")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	page, limit, err = normalizePage(page, limit, defaultSearchPageSize, maxPageSize)
	if err != nil {
		return nil, err
	}

	var scope []string
	if req.ConversationID != "" {
		if _, err := s.resolver.Participant(ctx, requesterID, req.ConversationID); err != nil {
			return nil, err
		}
		scope = []string{req.ConversationID}
	} else {
		scope, err = s.conversations.IDsForUser(ctx, requesterID)
		if err != nil {
			return nil, internalError("failed to resolve conversations", err)
		}
	}

	msgs, total, err := s.messages.Search(ctx, scope, req.Query, model.Offset(page, limit), limit)
	if err != nil {
		return nil, internalError("failed to search messages", err)
	}
	if err := s.present.messagesForDisplay(ctx, msgs); err != nil {
		return nil, err
	}

	convIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		convIDs = append(convIDs, m.ConversationID)
	}
	summaries, err := s.conversations.Summaries(ctx, convIDs)
	if err != nil {
		return nil, internalError("failed to resolve conversations", err)
	}
	for i := range msgs {
		if c, ok := summaries[msgs[i].ConversationID]; ok {
			msgs[i].Conversation = &c
		}
	}

	return &model.ListMessagesResponse{
		Messages:   msgs,
		Pagination: model.NewPagination(page, limit, total),
	}, nil
}

func (s *MessagingService) emitToConversation(ctx context.Context, conversationID, actorID, event string, payload any) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		s.logger.Warn("skipping event for missing conversation",
			zap.String("event", event),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	emitTo(ctx, s.emitter, conv.OtherParticipants(actorID), event, payload)
}
