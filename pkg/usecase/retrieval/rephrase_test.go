package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/usecase/retrieval"
)

// mockLLM is a test double for adapter.LLM with a swappable completion func
type mockLLM struct {
	completeFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, prompt)
	}
	return "", errors.New("not implemented")
}

func TestRephraseUsesLLMOutput(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			gt.S(t, prompt).Contains("what is a vector index")
			return `"How does a vector index organize document embeddings?"`, nil
		},
	}

	r := retrieval.NewRephraser(llm)
	got := r.Rephrase(ctx, "what is a vector index")
	gt.Equal(t, got, "How does a vector index organize document embeddings?")
}

func TestRephraseFallsBackOnLLMFailure(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("deadline exceeded")
		},
	}

	r := retrieval.NewRephraser(llm)
	gt.Equal(t, r.Rephrase(ctx, "original query"), "original query")
}

func TestRephraseParsing(t *testing.T) {
	tests := []struct {
		name     string
		response string
		original string
		expected string
	}{
		{
			name:     "single line with quotes",
			response: `'What are retention windows?'`,
			original: "retention windows",
			expected: "What are retention windows?",
		},
		{
			name:     "multi-line with explanatory lead-in",
			response: "Here's a better version of your query:\n\nHow do conversation summaries preserve context?",
			original: "summaries context",
			expected: "How do conversation summaries preserve context?",
		},
		{
			name:     "skips enumerated lines",
			response: "1. first option that is long enough to qualify\nWhat does the memory manager prune?",
			original: "memory manager",
			expected: "What does the memory manager prune?",
		},
		{
			name:     "long line without question mark",
			response: "This rephrased query should help:\nretrieval augmented generation over indexed corpora",
			original: "rag",
			expected: "retrieval augmented generation over indexed corpora",
		},
		{
			name:     "no usable line falls back",
			response: "Sure thing!\nshort\n- a list item",
			original: "fallback please",
			expected: "fallback please",
		},
		{
			name:     "empty response falls back",
			response: "   \n  ",
			original: "keep me",
			expected: "keep me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockLLM{
				completeFunc: func(ctx context.Context, prompt string) (string, error) {
					return tt.response, nil
				},
			}
			r := retrieval.NewRephraser(llm)
			gt.Equal(t, r.Rephrase(context.Background(), tt.original), tt.expected)
		})
	}
}
