package model

import (
	"time"

	"golang.org/x/text/cases"
)

// MessageType is the kind of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageOrder    MessageType = "order"
	MessageBusiness MessageType = "business"
)

// Message is a single message in a conversation.
type Message struct {
	// Identity
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`

	// Content
	Content string      `gorm:"type:text;not null" json:"content"`
	// Folded is Content under Unicode case folding; search matches against it.
	Folded  string      `gorm:"column:content_folded;type:text;not null;default:''" json:"-"`
	Image   *string     `gorm:"size:2048" json:"image,omitempty"`
	Type    MessageType `gorm:"column:message_type;size:16;not null;default:text" json:"message_type"`

	// Parties
	SenderID   string  `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	ReceiverID *string `gorm:"type:varchar(36);index:idx_messages_receiver_read,priority:1" json:"receiver_id,omitempty"`
	IsRead     bool    `gorm:"not null;default:false;index:idx_messages_receiver_read,priority:2" json:"is_read"`

	// Timestamps
	CreatedAt time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Resolved for display.
	Sender       *UserSummary         `gorm:"-" json:"sender,omitempty"`
	Conversation *ConversationSummary `gorm:"-" json:"conversation,omitempty"`
}

// TableName pins the table name.
func (Message) TableName() string {
	return "messages"
}

// FoldContent applies full Unicode case folding, so "ÄPFEL" and "äpfel", or
// "STRASSE" and "straße", compare equal.
func FoldContent(s string) string {
	return cases.Fold().String(s)
}

// ConversationSummary is the short form of a conversation attached to search hits.
type ConversationSummary struct {
	ID             string           `json:"id"`
	Name           string           `json:"name,omitempty"`
	Type           ConversationType `json:"type"`
	ParticipantIDs []string         `json:"participant_ids"`
}

// SendMessageRequest is the request to send a message.
type SendMessageRequest struct {
	Content        string      `json:"content" validate:"notblank,max=100000"`
	Image          *string     `json:"image,omitempty" validate:"omitempty,max=2048"`
	ReceiverID     string      `json:"receiver_id" validate:"required_without=ConversationID,max=64"`
	ConversationID string      `json:"conversation_id" validate:"required_without=ReceiverID,max=64"`
	Type           MessageType `json:"message_type" validate:"omitempty,oneof=text order business"`
}

// UpdateMessageRequest is the request to edit a message.
type UpdateMessageRequest struct {
	Content string `json:"content" validate:"notblank,max=100000"`
}

// SearchMessagesRequest scopes a message search.
type SearchMessagesRequest struct {
	Query          string `validate:"notblank,max=256"`
	ConversationID string `validate:"omitempty,max=64"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	ModifiedCount int64 `json:"modified_count"`
}

// UnreadCountResponse carries the global unread total.
type UnreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}
