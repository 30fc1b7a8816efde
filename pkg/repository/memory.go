package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/model"
)

// Memory is an in-process Repository for local runs and tests
type Memory struct {
	mu    sync.RWMutex
	convs map[model.ConversationID]*memConversation
}

type memConversation struct {
	conv    model.Conversation
	msgs    []*model.Message
	lastSeq int64
}

func NewMemory() *Memory {
	return &Memory{
		convs: make(map[model.ConversationID]*memConversation),
	}
}

func (r *Memory) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.convs[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrConversationNotFound, "no such conversation", goerr.V("id", id))
	}
	conv := c.conv
	return &conv, nil
}

func (r *Memory) GetOrCreate(ctx context.Context, id model.ConversationID, userID string) (*model.Conversation, error) {
	if id == "" {
		id = model.NewConversationID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.convs[id]; ok {
		conv := c.conv
		return &conv, nil
	}

	now := time.Now()
	c := &memConversation{
		conv: model.Conversation{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	r.convs[id] = c
	conv := c.conv
	return &conv, nil
}

func (r *Memory) PutMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[msg.ConversationID]
	if !ok {
		return nil, goerr.Wrap(model.ErrConversationNotFound, "no such conversation",
			goerr.V("id", msg.ConversationID))
	}

	if msg.ID == "" {
		msg.ID = model.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	c.lastSeq++
	msg.Seq = c.lastSeq

	stored := *msg
	c.msgs = append(c.msgs, &stored)
	c.conv.UpdatedAt = msg.CreatedAt

	return msg, nil
}

func (r *Memory) ListMessages(ctx context.Context, id model.ConversationID) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.convs[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrConversationNotFound, "no such conversation", goerr.V("id", id))
	}

	msgs := make([]*model.Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		copied := *m
		msgs = append(msgs, &copied)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}

func (r *Memory) ReplaceWorkingSet(ctx context.Context, id model.ConversationID, remove []model.MessageID, summary *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		return goerr.Wrap(model.ErrConversationNotFound, "no such conversation", goerr.V("id", id))
	}

	removing := make(map[model.MessageID]bool, len(remove))
	for _, msgID := range remove {
		removing[msgID] = true
	}

	kept := make([]*model.Message, 0, len(c.msgs)-len(remove)+1)
	for _, m := range c.msgs {
		if !removing[m.ID] {
			kept = append(kept, m)
		}
	}

	stored := *summary
	c.msgs = append([]*model.Message{&stored}, kept...)
	c.conv.UpdatedAt = time.Now()
	return nil
}
