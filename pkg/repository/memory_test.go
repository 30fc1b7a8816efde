package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/repository"
)

func TestMemoryGetOrCreate(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, "", "user-1")
	gt.NoError(t, err)
	gt.NotEqual(t, conv.ID, model.ConversationID(""))
	gt.Equal(t, conv.UserID, "user-1")

	// Second call with the same ID returns the existing conversation
	again, err := repo.GetOrCreate(ctx, conv.ID, "user-1")
	gt.NoError(t, err)
	gt.Equal(t, again.ID, conv.ID)
	gt.Equal(t, again.CreatedAt, conv.CreatedAt)
}

func TestMemoryGetNotFound(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	_, err := repo.Get(ctx, model.ConversationID("missing"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrConversationNotFound))
}

func TestMemoryMessageOrdering(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, "", "user-1")
	gt.NoError(t, err)

	// Same CreatedAt on purpose: order must fall back to insertion sequence
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := repo.PutMessage(ctx, &model.Message{
			ConversationID: conv.ID,
			Role:           model.RoleUser,
			Content:        "message",
			CreatedAt:      now,
		})
		gt.NoError(t, err)
	}

	msgs, err := repo.ListMessages(ctx, conv.ID)
	gt.NoError(t, err)
	gt.A(t, msgs).Length(5)

	seen := map[model.MessageID]bool{}
	for i := 1; i < len(msgs); i++ {
		gt.True(t, !msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		gt.True(t, msgs[i-1].Seq < msgs[i].Seq)
	}
	for _, m := range msgs {
		gt.True(t, !seen[m.ID])
		seen[m.ID] = true
	}
}

func TestMemoryPutMessageUpdatesConversation(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, "", "user-1")
	gt.NoError(t, err)

	msg, err := repo.PutMessage(ctx, &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        "hello",
	})
	gt.NoError(t, err)
	gt.NotEqual(t, msg.ID, model.MessageID(""))

	updated, err := repo.Get(ctx, conv.ID)
	gt.NoError(t, err)
	gt.True(t, !updated.UpdatedAt.Before(conv.UpdatedAt))
}

func TestMemoryReplaceWorkingSet(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	conv, err := repo.GetOrCreate(ctx, "", "user-1")
	gt.NoError(t, err)

	var stored []*model.Message
	for i := 0; i < 6; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msg, err := repo.PutMessage(ctx, &model.Message{
			ConversationID: conv.ID,
			Role:           role,
			Content:        "turn content",
		})
		gt.NoError(t, err)
		stored = append(stored, msg)
	}

	// Prune the first two pairs, replace with one summary at their position
	summary := model.NewSummaryMessage(conv.ID, "condensed digest of the first two turns")
	summary.Seq = stored[0].Seq
	summary.CreatedAt = stored[0].CreatedAt

	remove := []model.MessageID{stored[0].ID, stored[1].ID, stored[2].ID, stored[3].ID}
	gt.NoError(t, repo.ReplaceWorkingSet(ctx, conv.ID, remove, summary))

	msgs, err := repo.ListMessages(ctx, conv.ID)
	gt.NoError(t, err)
	gt.A(t, msgs).Length(3)

	gt.True(t, msgs[0].IsSummary())
	gt.Equal(t, msgs[1].ID, stored[4].ID)
	gt.Equal(t, msgs[2].ID, stored[5].ID)
}
