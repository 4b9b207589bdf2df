package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/localcity-market/messaging/internal/model"
)

// ConversationStore handles the conversations and conversation_participants tables.
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a conversation store.
func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create inserts a conversation and its participant rows in one transaction.
// A direct conversation colliding on DirectKey yields ErrDuplicate.
func (s *ConversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert conversation: %w", err)
		}

		rows := make([]model.Participant, len(conv.ParticipantIDs))
		for i, userID := range conv.ParticipantIDs {
			rows[i] = model.Participant{
				ConversationID: conv.ID,
				UserID:         userID,
				Position:       i,
				JoinedAt:       conv.CreatedAt,
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert participants: %w", err)
		}
		return nil
	})
}

// Get loads a conversation with its participant ids.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	convs := []model.Conversation{conv}
	if err := s.loadParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// FindActiveDirect returns the active direct conversation with the given pair key.
func (s *ConversationStore) FindActiveDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("direct_key = ? AND type = ? AND active = ?", directKey, model.ConversationDirect, true).
		First(&conv).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}

	convs := []model.Conversation{conv}
	if err := s.loadParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// ListForUser returns a page of active conversations containing userID,
// most recent activity first, with the total count.
func (s *ConversationStore) ListForUser(ctx context.Context, userID string, offset, limit int) ([]model.Conversation, int64, error) {
	db := s.db.WithContext(ctx)
	base := func() *gorm.DB {
		member := db.Model(&model.Participant{}).Select("conversation_id").Where("user_id = ?", userID)
		return db.Model(&model.Conversation{}).Where("active = ? AND id IN (?)", true, member)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var convs []model.Conversation
	err := base().
		Order("last_message_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	if err := s.loadParticipants(ctx, convs); err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// IDsForUser returns the ids of every conversation userID participates in.
func (s *ConversationStore) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participant conversations: %w", err)
	}
	return ids, nil
}

// Summaries loads the short form of several conversations keyed by id.
func (s *ConversationStore) Summaries(ctx context.Context, ids []string) (map[string]model.ConversationSummary, error) {
	out := make(map[string]model.ConversationSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var convs []model.Conversation
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	if err := s.loadParticipants(ctx, convs); err != nil {
		return nil, err
	}

	for _, c := range convs {
		out[c.ID] = model.ConversationSummary{
			ID:             c.ID,
			Name:           c.Name,
			Type:           c.Type,
			ParticipantIDs: c.ParticipantIDs,
		}
	}
	return out, nil
}

// SetLastMessage moves the last-message pointer of a conversation.
func (s *ConversationStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message_id": messageID,
			"last_message_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update last message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate hides a conversation and releases its direct pair key.
func (s *ConversationStore) Deactivate(ctx context.Context, conversationID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"active":     false,
			"direct_key": nil,
			"updated_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateIfEmpty deactivates a conversation only while it holds no
// messages and reports whether it did.
func (s *ConversationStore) DeactivateIfEmpty(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Where("NOT EXISTS (SELECT 1 FROM messages WHERE messages.conversation_id = conversations.id)").
		Updates(map[string]any{
			"active":     false,
			"direct_key": nil,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to deactivate empty conversation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Ping checks the database connection.
func (s *ConversationStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *ConversationStore) loadParticipants(ctx context.Context, convs []model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}

	var rows []model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id IN ?", ids).
		Order("conversation_id").
		Order("position").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}

	byConv := make(map[string][]string, len(convs))
	for _, r := range rows {
		byConv[r.ConversationID] = append(byConv[r.ConversationID], r.UserID)
	}
	for i := range convs {
		convs[i].ParticipantIDs = byConv[convs[i].ID]
		if convs[i].ParticipantIDs == nil {
			convs[i].ParticipantIDs = []string{}
		}
	}
	return nil
}
