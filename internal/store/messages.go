package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/localcity-market/messaging/internal/model"
)

// MessageStore handles the messages table.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a message store.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create inserts a message.
func (s *MessageStore) Create(ctx context.Context, msg *model.Message) error {
	msg.Folded = model.FoldContent(msg.Content)
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Get loads a message by id.
func (s *MessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetMany loads several messages keyed by id. Missing ids are absent from the map.
func (s *MessageStore) GetMany(ctx context.Context, ids []string) (map[string]model.Message, error) {
	out := make(map[string]model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var msgs []model.Message
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// UpdateContent replaces the content of a message and stamps updated_at.
func (s *MessageStore) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":        content,
			"content_folded": model.FoldContent(content),
			"updated_at":     at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a message permanently.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Message{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByConversation returns a page of messages newest first with the total count.
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var msgs []model.Message
	err := db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, total, nil
}

// MarkRead flags every unread message in the conversation not sent by readerID
// as read and returns how many rows changed.
func (s *MessageStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
		UpdateColumn("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnread counts unread messages addressed to receiverID.
func (s *MessageStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// Search finds messages whose content contains query, case-insensitively,
// within the given conversations. Results are newest first.
func (s *MessageStore) Search(ctx context.Context, conversationIDs []string, query string, offset, limit int) ([]model.Message, int64, error) {
	if len(conversationIDs) == 0 {
		return []model.Message{}, 0, nil
	}

	db := s.db.WithContext(ctx)
	pattern := likePattern(query)
	base := func() *gorm.DB {
		return db.Model(&model.Message{}).
			Where("conversation_id IN ?", conversationIDs).
			Where(`content_folded LIKE ? ESCAPE '\'`, pattern)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	var msgs []model.Message
	err := base().
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search messages: %w", err)
	}
	return msgs, total, nil
}
