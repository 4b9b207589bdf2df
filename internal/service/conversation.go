package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/localcity-market/messaging/internal/model"
	"github.com/localcity-market/messaging/internal/store"
)

const defaultConversationPageSize = 20

// CreateConversation creates a conversation explicitly.
func (s *MessagingService) CreateConversation(ctx context.Context, creatorID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	return s.resolver.CreateExplicit(ctx, creatorID, req)
}

// ListConversations returns the requester's active conversations, most
// recently active first.
func (s *MessagingService) ListConversations(ctx context.Context, requesterID string, page, limit int) (resp *model.ListConversationsResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.ListConversations")
	defer func() { endSpan(span, err) }()

	page, limit, err = normalizePage(page, limit, defaultConversationPageSize, maxPageSize)
	if err != nil {
		return nil, err
	}

	convs, total, err := s.conversations.ListForUser(ctx, requesterID, model.Offset(page, limit), limit)
	if err != nil {
		return nil, internalError("failed to list conversations", err)
	}
	if err := s.present.conversationsForDisplay(ctx, convs); err != nil {
		return nil, err
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Pagination:    model.NewPagination(page, limit, total),
	}, nil
}

// GetConversation returns one conversation the requester belongs to.
func (s *MessagingService) GetConversation(ctx context.Context, requesterID, conversationID string) (conv *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.GetConversation")
	defer func() { endSpan(span, err) }()

	conv, err = s.resolver.Participant(ctx, requesterID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.present.conversationForDisplay(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeactivateConversation hides a conversation from listings. A deactivated
// direct pair gets a fresh conversation on its next message.
func (s *MessagingService) DeactivateConversation(ctx context.Context, requesterID, conversationID string) (err error) {
	ctx, span := tracer.Start(ctx, "MessagingService.DeactivateConversation")
	defer func() { endSpan(span, err) }()

	conv, err := s.resolver.Participant(ctx, requesterID, conversationID)
	if err != nil {
		return err
	}
	if !conv.Active {
		return nil
	}
	if err := s.conversations.Deactivate(ctx, conv.ID, s.opts.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("conversation not found")
		}
		return internalError("failed to deactivate conversation", err)
	}

	s.logger.Info("conversation deactivated",
		zap.String("conversation_id", conv.ID),
		zap.String("requester_id", requesterID),
	)
	return nil
}
