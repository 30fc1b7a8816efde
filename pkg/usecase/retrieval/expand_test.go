package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/usecase/retrieval"
)

func TestExpandParsesNumberedList(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "1. What is X used for?\n2. How is X configured?\n3. What are the limits of X?", nil
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "What is X?", 3)
	gt.A(t, got).Length(3)
	gt.Equal(t, got[0], "What is X used for?")
	gt.Equal(t, got[1], "How is X configured?")
	gt.Equal(t, got[2], "What are the limits of X?")
}

func TestExpandPadsShortList(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "Here are the sub-questions:\n1. What is X used for?\n2. How is X configured?", nil
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "What is X?", 3)
	gt.A(t, got).Length(3)
	gt.Equal(t, got[2], "What is X?")
}

func TestExpandTruncatesLongList(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "1. a first one\n2. a second one\n3. a third one\n4. a fourth one\n5. a fifth one", nil
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "q", 3)
	gt.A(t, got).Length(3)
	gt.Equal(t, got[2], "a third one")
}

func TestExpandStripsMarkdownDecorations(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "1. [What is X used for?]\n- **How is X configured?**", nil
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "What is X?", 2)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0], "What is X used for?")
	gt.Equal(t, got[1], "How is X configured?")
}

func TestExpandDegradesOnLLMFailure(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("backend down")
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "What is X?", 3)
	gt.A(t, got).Length(1)
	gt.Equal(t, got[0], "What is X?")
}

func TestExpandDegradesOnProseOnlyOutput(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{
		completeFunc: func(ctx context.Context, prompt string) (string, error) {
			return "I could not split this query into sub-questions.", nil
		},
	}

	e := retrieval.NewExpander(llm)
	got := e.Expand(ctx, "What is X?", 3)
	gt.A(t, got).Length(1)
	gt.Equal(t, got[0], "What is X?")
}
