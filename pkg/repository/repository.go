package repository

import (
	"context"

	"github.com/watarai/vizsla/pkg/model"
)

// Repository is the conversation store: an append-only, ordered message log
// per conversation. The memory manager is the only writer of a conversation's
// log; readers may observe either the pre- or post-prune state but never a
// partially pruned one.
type Repository interface {
	// GetOrCreate returns the conversation, creating it when absent
	GetOrCreate(ctx context.Context, id model.ConversationID, userID string) (*model.Conversation, error)

	// Get retrieves a conversation by explicit ID. Returns
	// model.ErrConversationNotFound when it does not exist.
	Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// PutMessage appends a message to the conversation log, assigning its
	// insertion sequence number and bumping the conversation's UpdatedAt
	PutMessage(ctx context.Context, msg *model.Message) (*model.Message, error)

	// ListMessages returns the working set ordered by CreatedAt, ties
	// broken by sequence number
	ListMessages(ctx context.Context, id model.ConversationID) ([]*model.Message, error)

	// ReplaceWorkingSet atomically removes the given messages and inserts
	// the summary message in their place. The summary must carry the Seq
	// and CreatedAt of the oldest removed message so it sorts to the head
	// of the retained window.
	ReplaceWorkingSet(ctx context.Context, id model.ConversationID, remove []model.MessageID, summary *model.Message) error
}
