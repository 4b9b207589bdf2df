package service

import (
	"context"

	"github.com/localcity-market/messaging/internal/model"
)

// presenter resolves user and last-message references for display.
type presenter struct {
	users    Directory
	messages MessageRepository
}

func (p presenter) lookup(ctx context.Context, ids []string) (map[string]model.User, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	users, err := p.users.Lookup(ctx, unique)
	if err != nil {
		return nil, internalError("failed to resolve users", err)
	}
	return users, nil
}

func summaryOf(users map[string]model.User, id string) model.UserSummary {
	if u, ok := users[id]; ok {
		return u.Summary()
	}
	return model.UserSummary{ID: id}
}

func (p presenter) messagesForDisplay(ctx context.Context, msgs []model.Message) error {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.SenderID
	}
	users, err := p.lookup(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		sender := summaryOf(users, msgs[i].SenderID)
		msgs[i].Sender = &sender
	}
	return nil
}

func (p presenter) messageForDisplay(ctx context.Context, msg *model.Message) error {
	msgs := []model.Message{*msg}
	if err := p.messagesForDisplay(ctx, msgs); err != nil {
		return err
	}
	*msg = msgs[0]
	return nil
}

func (p presenter) conversationsForDisplay(ctx context.Context, convs []model.Conversation) error {
	var lastIDs []string
	for _, c := range convs {
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}
	last, err := p.messages.GetMany(ctx, lastIDs)
	if err != nil {
		return internalError("failed to resolve last messages", err)
	}

	var userIDs []string
	for _, c := range convs {
		userIDs = append(userIDs, c.ParticipantIDs...)
		if c.CreatedBy != nil {
			userIDs = append(userIDs, *c.CreatedBy)
		}
	}
	for _, m := range last {
		userIDs = append(userIDs, m.SenderID)
	}
	users, err := p.lookup(ctx, userIDs)
	if err != nil {
		return err
	}

	for i := range convs {
		c := &convs[i]
		c.Participants = make([]model.UserSummary, len(c.ParticipantIDs))
		for j, id := range c.ParticipantIDs {
			c.Participants[j] = summaryOf(users, id)
		}
		if c.CreatedBy != nil {
			creator := summaryOf(users, *c.CreatedBy)
			c.Creator = &creator
		}
		// A deleted last message leaves a dangling pointer; show none.
		if c.LastMessageID != nil {
			if m, ok := last[*c.LastMessageID]; ok {
				sender := summaryOf(users, m.SenderID)
				m.Sender = &sender
				c.LastMessage = &m
			}
		}
	}
	return nil
}

func (p presenter) conversationForDisplay(ctx context.Context, conv *model.Conversation) error {
	convs := []model.Conversation{*conv}
	if err := p.conversationsForDisplay(ctx, convs); err != nil {
		return err
	}
	*conv = convs[0]
	return nil
}
