package model

// Real-time event names pushed into personal rooms.
const (
	EventNewMessage          = "new_message"
	EventMessageUpdated      = "message_updated"
	EventMessageDeleted      = "message_deleted"
	EventMessagesRead        = "messages_read"
	EventConversationCreated = "conversation_created"
)

// MessageDeletedEvent tells participants a message is gone.
type MessageDeletedEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MessagesReadEvent tells senders their messages were read.
type MessagesReadEvent struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	ModifiedCount  int64  `json:"modified_count"`
}
