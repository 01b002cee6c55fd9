// Package summarizer produces markdown day summaries from message ranges.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chronologue/chronologue/internal/chunker"
	"github.com/chronologue/chronologue/internal/model"
)

// Summarizer folds a message range into a markdown summary, carrying forward
// the prior summary so coverage only ever grows. Implementations do not
// retry; the job runner owns retry policy.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, msgs []*model.Message) (string, error)
}

// RenderTranscript flattens a message range into prompt text. System
// messages are excluded and tool outputs are bounded, same as chunk text.
func RenderTranscript(msgs []*model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		line := chunker.RenderMessage(m)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Extractive is a model-free fallback: it keeps the prior summary and
// appends one line per user turn. Deterministic, used when no generation
// model is configured and in tests.
type Extractive struct{}

func (Extractive) Summarize(ctx context.Context, priorSummary string, msgs []*model.Message) (string, error) {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString(priorSummary)
		b.WriteString("\n")
	}
	for _, m := range msgs {
		if m.Role != model.RoleUser {
			continue
		}
		line := m.Content
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		const maxLine = 120
		if len(line) > maxLine {
			end := maxLine
			for end > 0 && !utf8.RuneStart(line[end]) {
				end--
			}
			line = line[:end]
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
