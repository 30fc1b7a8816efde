package retrieval

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"unicode"

	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

//go:embed prompt/expand.md
var expandPromptRaw string

var expandPromptTmpl = template.Must(template.New("expand").Parse(expandPromptRaw))

// Expander asks the LLM to split one query into n focused sub-queries. The
// numbered-list response is parsed tolerantly; the result is always exactly n
// entries, padded with the original query when the model under-delivers.
// On LLM failure it degrades to a single-query search.
type Expander struct {
	llm adapter.LLM
}

func NewExpander(llm adapter.LLM) *Expander {
	return &Expander{llm: llm}
}

func (e *Expander) Expand(ctx context.Context, original string, n int) []string {
	if n <= 1 {
		return []string{original}
	}

	var buf bytes.Buffer
	if err := expandPromptTmpl.Execute(&buf, map[string]any{"Query": original, "N": n}); err != nil {
		logging.From(ctx).Warn("failed to build expand prompt", "error", err)
		return []string{original}
	}

	raw, err := e.llm.Complete(ctx, buf.String())
	if err != nil {
		logging.From(ctx).Warn("expand LLM call failed, degrading to single query",
			"error", err, "query", original)
		return []string{original}
	}

	items := parseNumberedList(raw)
	if len(items) == 0 {
		logging.From(ctx).Warn("no list items in expand output, degrading to single query",
			"raw", raw)
		return []string{original}
	}

	if len(items) > n {
		items = items[:n]
	}
	for len(items) < n {
		items = append(items, original)
	}
	return items
}

// parseNumberedList extracts items from a free-text numbered or dashed list
func parseNumberedList(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		var body string
		switch {
		case strings.HasPrefix(line, "- "):
			body = line[2:]
		case startsWithNumberMarker(line):
			_, body, _ = strings.Cut(line, ".")
		default:
			continue
		}

		body = strings.TrimSpace(body)
		body = strings.TrimPrefix(body, "[")
		body = strings.TrimSuffix(body, "]")
		body = strings.Trim(body, "*")
		body = strings.TrimSpace(body)

		if body != "" {
			items = append(items, body)
		}
	}
	return items
}

func startsWithNumberMarker(line string) bool {
	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	return i > 0 && i < len(line) && line[i] == '.'
}
