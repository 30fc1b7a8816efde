package chat

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/usecase/memory"
	"github.com/watarai/vizsla/pkg/usecase/retrieval"
)

// defaultTopK bounds a turn's retrieved context when the caller does not ask
// for a specific k
const defaultTopK = 8

// Pipeline is the per-turn surface of the context pipeline. It appends the
// user message through the memory manager, runs the selected retrieval mode,
// and hands the caller everything needed to build a grounded prompt. The
// caller invokes the LLM itself and writes the reply back via
// AppendAssistant.
type Pipeline struct {
	manager      *memory.Manager
	orchestrator *retrieval.Orchestrator
}

func NewPipeline(manager *memory.Manager, orchestrator *retrieval.Orchestrator) *Pipeline {
	return &Pipeline{
		manager:      manager,
		orchestrator: orchestrator,
	}
}

// TurnInput describes one incoming user turn
type TurnInput struct {
	ConversationID model.ConversationID
	UserID         string
	UserText       string
	Mode           model.SearchMode
	// Scope optionally restricts retrieval to these document IDs
	Scope []string
	K     int
}

// TurnOutput carries the retrieved context and the memory state observed by
// this turn
type TurnOutput struct {
	ConversationID     model.ConversationID
	Chunks             []*model.RetrievedChunk
	PairCount          int
	NeedsSummarization bool
}

// ProcessTurn appends the user message, runs the retention check and
// retrieves grounding context. A degraded retrieval yields an empty chunk
// list; only model.ErrRetrievalUnavailable aborts the turn.
func (p *Pipeline) ProcessTurn(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	mode := in.Mode
	if mode == "" {
		mode = model.SearchModeStandard
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	k := in.K
	if k <= 0 {
		k = defaultTopK
	}

	appended, err := p.manager.Append(ctx, memory.AppendInput{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           model.RoleUser,
		Content:        in.UserText,
		Metadata:       map[string]any{"search_mode": string(mode)},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to append user message")
	}

	chunks, err := p.orchestrator.Search(ctx, in.UserText, mode, k, in.Scope)
	if err != nil {
		return nil, goerr.Wrap(err, "retrieval failed for turn",
			goerr.V("conversation_id", appended.Message.ConversationID),
			goerr.V("mode", mode))
	}

	return &TurnOutput{
		ConversationID:     appended.Message.ConversationID,
		Chunks:             chunks,
		PairCount:          appended.PairCount,
		NeedsSummarization: appended.NeedsSummarization,
	}, nil
}

// AppendAssistant writes the generated reply back into the conversation log
func (p *Pipeline) AppendAssistant(ctx context.Context, convID model.ConversationID, text string) (*memory.AppendResult, error) {
	return p.manager.Append(ctx, memory.AppendInput{
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        text,
	})
}

// History returns the conversation's current working set
func (p *Pipeline) History(ctx context.Context, convID model.ConversationID) ([]*model.Message, error) {
	return p.manager.History(ctx, convID)
}
