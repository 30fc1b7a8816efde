package chat

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/model"
)

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Parse(answerPromptRaw))

// historyTailTurns bounds how much raw history goes into the answer prompt
const historyTailTurns = 6

// Session drives a multi-turn chat: it runs the context pipeline for each
// incoming message, builds the grounded prompt and calls the LLM for the
// reply. This is host-side glue around the core; the pipeline itself never
// calls the generative model for answers.
type Session struct {
	pipeline *Pipeline
	llm      adapter.LLM

	convID model.ConversationID
	userID string
	mode   model.SearchMode
	scope  []string
	k      int
}

// SessionInput contains parameters for creating a chat session
type SessionInput struct {
	Pipeline *Pipeline
	LLM      adapter.LLM

	// ConversationID is optional; empty starts a new conversation
	ConversationID model.ConversationID
	UserID         string
	Mode           model.SearchMode
	Scope          []string
	K              int
}

func NewSession(in SessionInput) *Session {
	return &Session{
		pipeline: in.Pipeline,
		llm:      in.LLM,
		convID:   in.ConversationID,
		userID:   in.UserID,
		mode:     in.Mode,
		scope:    in.Scope,
		k:        in.K,
	}
}

// ConversationID returns the conversation this session writes to. Empty
// until the first Send.
func (s *Session) ConversationID() model.ConversationID {
	return s.convID
}

// Reply is the outcome of one completed turn
type Reply struct {
	Text               string
	Chunks             []*model.RetrievedChunk
	PairCount          int
	NeedsSummarization bool
}

func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	out, err := s.pipeline.ProcessTurn(ctx, TurnInput{
		ConversationID: s.convID,
		UserID:         s.userID,
		UserText:       message,
		Mode:           s.mode,
		Scope:          s.scope,
		K:              s.k,
	})
	if err != nil {
		return nil, err
	}
	s.convID = out.ConversationID

	history, err := s.pipeline.History(ctx, s.convID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history")
	}

	prompt, err := buildAnswerPrompt(message, history, out.Chunks)
	if err != nil {
		return nil, err
	}

	answer, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer")
	}

	if _, err := s.pipeline.AppendAssistant(ctx, s.convID, answer); err != nil {
		return nil, goerr.Wrap(err, "failed to store assistant reply")
	}

	return &Reply{
		Text:               answer,
		Chunks:             out.Chunks,
		PairCount:          out.PairCount,
		NeedsSummarization: out.NeedsSummarization,
	}, nil
}

func buildAnswerPrompt(question string, history []*model.Message, chunks []*model.RetrievedChunk) (string, error) {
	var summary string
	var turns []string
	for _, msg := range history {
		if msg.IsSummary() {
			summary = msg.Content
			continue
		}
		turns = append(turns, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}

	// The final entry is the question itself, already in the log
	if len(turns) > 0 {
		turns = turns[:len(turns)-1]
	}
	if len(turns) > historyTailTurns*2 {
		turns = turns[len(turns)-historyTailTurns*2:]
	}

	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, map[string]any{
		"Summary":  summary,
		"History":  strings.Join(turns, "\n"),
		"Chunks":   chunks,
		"Question": question,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to build answer prompt")
	}

	return buf.String(), nil
}
