package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/repository"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

// Manager keeps each conversation's working set bounded while preserving
// semantic continuity. Once the pair count crosses the policy threshold, all
// turns outside the trailing window are compressed into a single system
// summary message through the LLM.
//
// Mutations of one conversation are serialized by a per-conversation mutex so
// a prune can never interleave with a concurrent append. History reads take
// no lock; they see either the pre- or post-prune state, never a partial one,
// because the prune is one atomic replace in the repository.
type Manager struct {
	repo    repository.Repository
	llm     adapter.LLM
	archive adapter.Storage
	policy  model.RetentionPolicy

	mu    sync.Mutex
	locks map[model.ConversationID]*sync.Mutex
}

type Option func(*Manager)

// WithArchive enables best-effort archiving of pruned raw messages
func WithArchive(archive adapter.Storage) Option {
	return func(m *Manager) {
		m.archive = archive
	}
}

func New(repo repository.Repository, llm adapter.LLM, policy model.RetentionPolicy, opts ...Option) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid retention policy")
	}

	m := &Manager{
		repo:   repo,
		llm:    llm,
		policy: policy,
		locks:  make(map[model.ConversationID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AppendInput describes one message to store
type AppendInput struct {
	ConversationID model.ConversationID
	UserID         string
	Role           model.Role
	Content        string
	Metadata       map[string]any
}

// AppendResult reports the stored message and the retention state observed by
// this append. NeedsSummarization is true on the append that triggered
// compression, whether or not the prune itself succeeded this turn.
type AppendResult struct {
	Message            *model.Message
	PairCount          int
	NeedsSummarization bool
}

// Append stores a message and runs the retention check. Summarization
// failures are deferred, never surfaced: the raw log stays intact and the
// next triggering append retries.
func (m *Manager) Append(ctx context.Context, in AppendInput) (*AppendResult, error) {
	if err := in.Role.Validate(); err != nil {
		return nil, err
	}

	lock := m.convLock(in.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.repo.GetOrCreate(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get or create conversation")
	}

	msg, err := m.repo.PutMessage(ctx, &model.Message{
		ConversationID: conv.ID,
		Role:           in.Role,
		Content:        in.Content,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store message")
	}

	msgs, err := m.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages")
	}

	result := &AppendResult{
		Message:   msg,
		PairCount: countPairs(msgs),
	}

	if !m.shouldSummarize(msgs, result.PairCount) {
		return result, nil
	}
	result.NeedsSummarization = true

	if err := m.summarizeAndPrune(ctx, conv.ID, msgs); err != nil {
		// Deferred, not fatal: no data is lost, pruning retries next turn
		logging.From(ctx).Warn("summarization deferred",
			"error", goerr.Wrap(model.ErrSummarizationDeferred, err.Error()),
			"conversation_id", conv.ID,
			"pair_count", result.PairCount)
		return result, nil
	}

	retained, err := m.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages after prune")
	}
	result.PairCount = countPairs(retained)

	return result, nil
}

// History returns the conversation's working set in order. Reads run without
// the conversation lock.
func (m *Manager) History(ctx context.Context, id model.ConversationID) ([]*model.Message, error) {
	return m.repo.ListMessages(ctx, id)
}

// Get returns the conversation without creating it
func (m *Manager) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) convLock(id model.ConversationID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// shouldSummarize applies the retention trigger. Right after a prune the pair
// count equals the window, so the buffer demands that at least
// PostSummaryBufferPairs new pairs accumulate before the next compression.
func (m *Manager) shouldSummarize(msgs []*model.Message, pairCount int) bool {
	if pairCount <= m.policy.MaxPairsBeforeSummarize {
		return false
	}
	if hasSummary(msgs) && pairCount-m.policy.WindowPairs < m.policy.PostSummaryBufferPairs {
		return false
	}
	return true
}

// countPairs counts completed user+assistant exchanges in the working set.
// Each assistant reply closes one pair; the summary message is not a turn.
func countPairs(msgs []*model.Message) int {
	pairs := 0
	for _, msg := range msgs {
		if msg.Role == model.RoleAssistant {
			pairs++
		}
	}
	return pairs
}

func hasSummary(msgs []*model.Message) bool {
	for _, msg := range msgs {
		if msg.IsSummary() {
			return true
		}
	}
	return false
}

// cutIndex returns the index of the first message of the trailing
// windowPairs pairs. Everything before it is the prune candidate set.
func cutIndex(msgs []*model.Message, windowPairs int) int {
	pairs := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			pairs++
			if pairs == windowPairs {
				// Include the user message that opened this pair
				if i > 0 && msgs[i-1].Role == model.RoleUser {
					return i - 1
				}
				return i
			}
		}
	}
	return 0
}
