package memory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

var summarizePromptTmpl = template.Must(template.New("summarize").Parse(summarizePromptRaw))

// summarizeAndPrune compresses everything outside the trailing window into
// one summary message and applies the replacement atomically. A prior summary
// at the head of the working set is fed back into the prompt as seed and
// removed together with the pruned raw turns, so information is only ever
// compressed, never dropped.
func (m *Manager) summarizeAndPrune(ctx context.Context, convID model.ConversationID, msgs []*model.Message) error {
	cut := cutIndex(msgs, m.policy.WindowPairs)
	if cut <= 0 {
		return goerr.New("nothing to prune", goerr.V("messages", len(msgs)))
	}

	pruned := msgs[:cut]

	var priorSummary string
	transcript := make([]string, 0, len(pruned))
	for _, msg := range pruned {
		if msg.IsSummary() {
			priorSummary = msg.Content
			continue
		}
		transcript = append(transcript, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}

	var buf bytes.Buffer
	if err := summarizePromptTmpl.Execute(&buf, map[string]any{
		"PriorSummary": priorSummary,
		"Transcript":   strings.Join(transcript, "\n"),
	}); err != nil {
		return goerr.Wrap(err, "failed to build summarize prompt")
	}

	summaryText, err := m.llm.Complete(ctx, buf.String())
	if err != nil {
		return goerr.Wrap(err, "summarization LLM call failed")
	}
	summaryText = strings.TrimSpace(summaryText)
	if summaryText == "" {
		return goerr.New("empty summary generated")
	}

	summary := model.NewSummaryMessage(convID, summaryText)
	// Inherit the position of the oldest pruned message so the summary sorts
	// to the head of the retained window
	summary.Seq = pruned[0].Seq
	summary.CreatedAt = pruned[0].CreatedAt

	remove := make([]model.MessageID, 0, len(pruned))
	for _, msg := range pruned {
		remove = append(remove, msg.ID)
	}

	if err := m.repo.ReplaceWorkingSet(ctx, convID, remove, summary); err != nil {
		return goerr.Wrap(err, "failed to replace working set")
	}

	m.archivePruned(ctx, convID, pruned)

	logging.From(ctx).Info("conversation compressed",
		"conversation_id", convID,
		"pruned_messages", len(pruned),
		"summary_bytes", len(summaryText))

	return nil
}

// archivePruned writes the pruned raw messages to external storage. Best
// effort: the working set replacement already succeeded, so a failed archive
// only loses the raw form of already-summarized turns.
func (m *Manager) archivePruned(ctx context.Context, convID model.ConversationID, pruned []*model.Message) {
	if m.archive == nil {
		return
	}

	key := fmt.Sprintf("conversations/%s/pruned-%d.json", convID, time.Now().UnixNano())

	writer, err := m.archive.Put(ctx, key)
	if err != nil {
		logging.From(ctx).Warn("failed to open archive writer", "error", err, "key", key)
		return
	}

	data, err := json.Marshal(pruned)
	if err != nil {
		logging.From(ctx).Warn("failed to marshal pruned messages", "error", err, "key", key)
		_ = writer.Close()
		return
	}

	if _, err := writer.Write(data); err != nil {
		logging.From(ctx).Warn("failed to write archive", "error", err, "key", key)
		_ = writer.Close()
		return
	}
	if err := writer.Close(); err != nil {
		logging.From(ctx).Warn("failed to close archive writer", "error", err, "key", key)
	}
}
