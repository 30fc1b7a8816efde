package retrieval

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

//go:embed prompt/rephrase.md
var rephrasePromptRaw string

var rephrasePromptTmpl = template.Must(template.New("rephrase").Parse(rephrasePromptRaw))

// Rephraser rewrites a query for better retrieval through the LLM. The LLM
// response is untrusted free text; any unusable shape degrades to the
// original query, so Rephrase never fails the caller.
type Rephraser struct {
	llm adapter.LLM
}

func NewRephraser(llm adapter.LLM) *Rephraser {
	return &Rephraser{llm: llm}
}

func (r *Rephraser) Rephrase(ctx context.Context, original string) string {
	var buf bytes.Buffer
	if err := rephrasePromptTmpl.Execute(&buf, map[string]any{"Query": original}); err != nil {
		logging.From(ctx).Warn("failed to build rephrase prompt", "error", err)
		return original
	}

	raw, err := r.llm.Complete(ctx, buf.String())
	if err != nil {
		logging.From(ctx).Warn("rephrase LLM call failed, using original query",
			"error", err, "query", original)
		return original
	}

	rewritten, err := parseRephrased(raw)
	if err != nil {
		logging.From(ctx).Warn("unusable rephrase output, using original query",
			"error", err, "raw", raw)
		return original
	}

	return rewritten
}

// explanatoryPrefixes are lead-ins a chatty model puts before the actual
// rewritten query. Lines starting with one of these are never the answer.
var explanatoryPrefixes = []string{
	"here's",
	"here is",
	"this rephrased",
	"sure",
	"certainly",
}

func parseRephrased(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", goerr.Wrap(model.ErrMalformedLLMOutput, "empty rephrase response")
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 1 {
		return stripQuotes(lines[0]), nil
	}

	for _, line := range lines {
		candidate := stripQuotes(line)
		if candidate == "" {
			continue
		}
		if isExplanatory(candidate) || isEnumerated(candidate) {
			continue
		}
		if strings.Contains(candidate, "?") || len(candidate) > 20 {
			return candidate, nil
		}
	}

	return "", goerr.Wrap(model.ErrMalformedLLMOutput, "no usable line in rephrase response")
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) > len(pair[0])+len(pair[1]) {
			s = strings.TrimSuffix(strings.TrimPrefix(s, pair[0]), pair[1])
			return strings.TrimSpace(s)
		}
	}
	return s
}

func isExplanatory(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range explanatoryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isEnumerated reports whether the line starts with a list marker like "1."
func isEnumerated(line string) bool {
	if strings.HasPrefix(line, "- ") {
		return true
	}
	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}
