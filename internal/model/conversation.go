// Package model defines data structures for the messaging service.
package model

import (
	"sort"
	"strings"
	"time"
)

// ConversationType distinguishes two-party chats from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation groups messages between a fixed participant set.
type Conversation struct {
	ID            string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string           `gorm:"size:256" json:"name,omitempty"`
	Type          ConversationType `gorm:"size:16;not null;index" json:"type"`
	DirectKey     *string          `gorm:"size:80;uniqueIndex" json:"-"`
	LastMessageID *string          `gorm:"type:varchar(36)" json:"last_message_id,omitempty"`
	LastMessageAt time.Time        `gorm:"index" json:"last_message_at"`
	Active        bool             `gorm:"not null;default:true;index" json:"active"`
	CreatedBy     *string          `gorm:"type:varchar(36)" json:"created_by,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`

	// Loaded from conversation_participants.
	ParticipantIDs []string `gorm:"-" json:"participant_ids"`

	// Resolved for display.
	Participants []UserSummary `gorm:"-" json:"participants,omitempty"`
	LastMessage  *Message      `gorm:"-" json:"last_message,omitempty"`
	Creator      *UserSummary  `gorm:"-" json:"creator,omitempty"`
}

// TableName pins the table name.
func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipants returns every participant except userID.
func (c *Conversation) OtherParticipants(userID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// Participant is one row of conversation membership.
type Participant struct {
	ConversationID string    `gorm:"type:varchar(36);primaryKey"`
	UserID         string    `gorm:"type:varchar(36);primaryKey;index"`
	Position       int       `gorm:"not null;default:0"`
	JoinedAt       time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (Participant) TableName() string {
	return "conversation_participants"
}

// DirectKey returns the order-independent key of a direct pair.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// CreateConversationRequest is the request to create a conversation explicitly.
type CreateConversationRequest struct {
	Name         string           `json:"name" validate:"max=256"`
	Type         ConversationType `json:"type" validate:"required,oneof=direct group"`
	Participants []string         `json:"participants" validate:"required,min=1,max=256,dive,required,max=64"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Pagination    Pagination     `json:"pagination"`
}
