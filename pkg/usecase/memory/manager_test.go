package memory_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/repository"
	"github.com/watarai/vizsla/pkg/usecase/memory"
)

type mockLLM struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockLLM) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// mockArchive captures archive writes in memory
type mockArchive struct {
	mu      sync.Mutex
	objects map[string]*bytes.Buffer
}

type archiveWriter struct {
	buf *bytes.Buffer
}

func (w *archiveWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *archiveWriter) Close() error                { return nil }

func newMockArchive() *mockArchive {
	return &mockArchive{objects: make(map[string]*bytes.Buffer)}
}

func (a *mockArchive) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := &bytes.Buffer{}
	a.objects[key] = buf
	return &archiveWriter{buf: buf}, nil
}

func (a *mockArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (a *mockArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}

func newManager(t *testing.T, llm *mockLLM, policy model.RetentionPolicy, opts ...memory.Option) (*memory.Manager, model.ConversationID) {
	t.Helper()
	repo := repository.NewMemory()
	mgr, err := memory.New(repo, llm, policy, opts...)
	gt.NoError(t, err)

	ctx := context.Background()
	conv, err := repo.GetOrCreate(ctx, "", "user-1")
	gt.NoError(t, err)
	return mgr, conv.ID
}

// runTurn appends one user message and one assistant reply, returning the
// result of the assistant append (the one that completes the pair)
func runTurn(t *testing.T, mgr *memory.Manager, convID model.ConversationID, n int) *memory.AppendResult {
	t.Helper()
	ctx := context.Background()

	_, err := mgr.Append(ctx, memory.AppendInput{
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        fmt.Sprintf("user message %d", n),
	})
	gt.NoError(t, err)

	result, err := mgr.Append(ctx, memory.AppendInput{
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        fmt.Sprintf("assistant reply %d", n),
	})
	gt.NoError(t, err)
	return result
}

func TestAppendRejectsInvalidRole(t *testing.T) {
	llm := &mockLLM{response: "summary"}
	mgr, convID := newManager(t, llm, model.DefaultRetentionPolicy())

	_, err := mgr.Append(context.Background(), memory.AppendInput{
		ConversationID: convID,
		Role:           model.Role("robot"),
		Content:        "hello",
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidRole))
}

func TestSummarizationBoundary(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 2, MaxPairsBeforeSummarize: 4, PostSummaryBufferPairs: 1}
	llm := &mockLLM{response: "condensed summary of early turns"}
	mgr, convID := newManager(t, llm, policy)

	// Up to and including max pairs: no summarization
	for i := 1; i <= 4; i++ {
		result := runTurn(t, mgr, convID, i)
		gt.True(t, !result.NeedsSummarization)
		gt.Equal(t, result.PairCount, i)
	}
	gt.Equal(t, llm.calls(), 0)

	// One past the threshold triggers
	result := runTurn(t, mgr, convID, 5)
	gt.True(t, result.NeedsSummarization)
	gt.Equal(t, llm.calls(), 1)
	gt.Equal(t, result.PairCount, policy.WindowPairs)
}

func TestPruneInvariants(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 2, MaxPairsBeforeSummarize: 4, PostSummaryBufferPairs: 1}
	llm := &mockLLM{response: "condensed summary of early turns"}
	mgr, convID := newManager(t, llm, policy)

	for i := 1; i <= 5; i++ {
		runTurn(t, mgr, convID, i)
	}

	msgs, err := mgr.History(context.Background(), convID)
	gt.NoError(t, err)

	var raw, summaries int
	for _, m := range msgs {
		if m.IsSummary() {
			summaries++
		} else {
			raw++
		}
	}
	gt.Equal(t, summaries, 1)
	gt.True(t, raw <= 2*(policy.WindowPairs+policy.PostSummaryBufferPairs))

	// Summary sits at the head of the retained window
	gt.True(t, msgs[0].IsSummary())
	gt.S(t, msgs[0].Content).Contains("condensed summary")
}

func TestTwentyTurnScenario(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 8, MaxPairsBeforeSummarize: 16, PostSummaryBufferPairs: 4}
	llm := &mockLLM{response: "summary of turns one through nine"}
	mgr, convID := newManager(t, llm, policy)

	triggeredAt := []int{}
	for i := 1; i <= 20; i++ {
		result := runTurn(t, mgr, convID, i)
		if result.NeedsSummarization {
			triggeredAt = append(triggeredAt, i)
		}
	}

	// Compression triggered exactly once, on the turn past the threshold
	gt.A(t, triggeredAt).Length(1)
	gt.Equal(t, triggeredAt[0], 17)
	gt.Equal(t, llm.calls(), 1)

	msgs, err := mgr.History(context.Background(), convID)
	gt.NoError(t, err)

	summaries := 0
	for _, m := range msgs {
		if m.IsSummary() {
			summaries++
		}
		// The early user turns exist only inside the summary now
		for i := 1; i <= 4; i++ {
			if !m.IsSummary() {
				gt.NotEqual(t, m.Content, fmt.Sprintf("user message %d", i))
			}
		}
	}
	gt.Equal(t, summaries, 1)
	gt.True(t, msgs[0].IsSummary())
}

func TestSummarizationFailureIsDeferred(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 2, MaxPairsBeforeSummarize: 4, PostSummaryBufferPairs: 1}
	llm := &mockLLM{err: errors.New("LLM timeout")}
	mgr, convID := newManager(t, llm, policy)

	for i := 1; i <= 4; i++ {
		runTurn(t, mgr, convID, i)
	}

	// Trigger fires but the prune fails; the append itself succeeds
	result := runTurn(t, mgr, convID, 5)
	gt.True(t, result.NeedsSummarization)
	gt.Equal(t, result.PairCount, 5)

	// Nothing was lost
	msgs, err := mgr.History(context.Background(), convID)
	gt.NoError(t, err)
	gt.A(t, msgs).Length(10)
	for _, m := range msgs {
		gt.True(t, !m.IsSummary())
	}

	// Next turn retries and succeeds once the LLM recovers
	llm.mu.Lock()
	llm.err = nil
	llm.response = "recovered summary"
	llm.mu.Unlock()

	result = runTurn(t, mgr, convID, 6)
	gt.True(t, result.NeedsSummarization)
	gt.Equal(t, result.PairCount, policy.WindowPairs)

	msgs, err = mgr.History(context.Background(), convID)
	gt.NoError(t, err)
	gt.True(t, msgs[0].IsSummary())
}

func TestPriorSummaryIsMerged(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 2, MaxPairsBeforeSummarize: 4, PostSummaryBufferPairs: 1}
	llm := &mockLLM{response: "first generation summary"}
	mgr, convID := newManager(t, llm, policy)

	for i := 1; i <= 5; i++ {
		runTurn(t, mgr, convID, i)
	}
	gt.Equal(t, llm.calls(), 1)

	// Drive a second compression; its prompt must carry the prior summary
	llm.mu.Lock()
	llm.response = "second generation summary"
	llm.mu.Unlock()

	for i := 6; i <= 8; i++ {
		runTurn(t, mgr, convID, i)
	}
	gt.Equal(t, llm.calls(), 2)
	gt.S(t, llm.lastPrompt()).Contains("first generation summary")

	msgs, err := mgr.History(context.Background(), convID)
	gt.NoError(t, err)

	summaries := 0
	for _, m := range msgs {
		if m.IsSummary() {
			summaries++
			gt.S(t, m.Content).Contains("second generation")
		}
	}
	gt.Equal(t, summaries, 1)
}

func TestPrunedMessagesAreArchived(t *testing.T) {
	policy := model.RetentionPolicy{WindowPairs: 2, MaxPairsBeforeSummarize: 4, PostSummaryBufferPairs: 1}
	llm := &mockLLM{response: "archived summary"}
	archive := newMockArchive()
	mgr, convID := newManager(t, llm, policy, memory.WithArchive(archive))

	for i := 1; i <= 5; i++ {
		runTurn(t, mgr, convID, i)
	}

	gt.Equal(t, archive.count(), 1)
	for key, buf := range archive.objects {
		gt.S(t, key).Contains(string(convID))
		gt.S(t, buf.String()).Contains("user message 1")
	}
}

func TestConcurrentAppendsKeepOrdering(t *testing.T) {
	policy := model.DefaultRetentionPolicy()
	llm := &mockLLM{response: "summary"}
	mgr, convID := newManager(t, llm, policy)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			_, err := mgr.Append(ctx, memory.AppendInput{
				ConversationID: convID,
				Role:           model.RoleUser,
				Content:        fmt.Sprintf("concurrent %d", i),
			})
			gt.NoError(t, err)
			_, err = mgr.Append(ctx, memory.AppendInput{
				ConversationID: convID,
				Role:           model.RoleAssistant,
				Content:        fmt.Sprintf("reply %d", i),
			})
			gt.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := mgr.History(context.Background(), convID)
	gt.NoError(t, err)
	gt.A(t, msgs).Length(16)

	seen := map[model.MessageID]bool{}
	for i, m := range msgs {
		gt.True(t, !seen[m.ID])
		seen[m.ID] = true
		if i > 0 {
			gt.True(t, !m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}
