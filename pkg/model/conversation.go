package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

type MessageID string

// NewMessageID generates a new unique MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Validate checks if the role is valid
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return ErrInvalidRole
	}
}

// MetadataTypeSummary marks a system message that carries the condensed digest
// of pruned conversation turns.
const MetadataTypeSummary = "conversation_summary"

// Conversation is a multi-turn exchange owned by a single user. It holds an
// ordered sequence of Messages, kept bounded by the memory manager.
type Conversation struct {
	ID        ConversationID
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single entry of a conversation log. Messages are append-only:
// once stored they are never mutated, only removed as a whole when an old
// window is compressed into a summary.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Role           Role
	Content        string
	Metadata       map[string]any
	// Seq breaks CreatedAt ties so that the log has a total order
	Seq       int64
	CreatedAt time.Time
}

// IsSummary reports whether the message is a synthetic digest of pruned turns
func (m *Message) IsSummary() bool {
	if m.Role != RoleSystem || m.Metadata == nil {
		return false
	}
	t, ok := m.Metadata["type"].(string)
	return ok && t == MetadataTypeSummary
}

// NewSummaryMessage builds the system message that replaces a pruned window
func NewSummaryMessage(convID ConversationID, content string) *Message {
	return &Message{
		ID:             NewMessageID(),
		ConversationID: convID,
		Role:           RoleSystem,
		Content:        content,
		Metadata:       map[string]any{"type": MetadataTypeSummary},
		CreatedAt:      time.Now(),
	}
}

// Before reports whether m precedes other in the conversation order:
// CreatedAt ascending, ties broken by insertion sequence.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
