// Package contextbuilder assembles the per-turn message list per spec
// §4.10 step 4: a stable system prompt prefix followed by dynamic content.
// The stable prefix must be byte-identical across turns within a session
// so a provider that supports prompt caching (e.g. Anthropic's) can reuse
// it; only the ordering and content documented here changes that.
package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/borhen68/picoagent/internal/provider"
	"github.com/borhen68/picoagent/internal/session"
	"github.com/borhen68/picoagent/internal/vectormemory"
)

// StablePrompt holds the byte-identical-per-session prefix.
type StablePrompt struct {
	Persona     string
	Workspace   string
	ToolSummary string
}

// Render produces the stable system prompt text. Given the same fields, it
// always produces the same bytes.
func (s StablePrompt) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s.Persona))
	b.WriteString("\n\nWorkspace root: ")
	b.WriteString(s.Workspace)
	if s.ToolSummary != "" {
		b.WriteString("\n\nAvailable tools:\n")
		b.WriteString(s.ToolSummary)
	}
	return b.String()
}

// Build assembles the full message list for a turn: [stable system prompt,
// skill prompts, memory snippets, recent history window, current user
// message]. Only the leading system message is guaranteed stable; every
// element after it may vary turn to turn.
func Build(stable StablePrompt, skillPrompts []string, memories []vectormemory.Scored, history []session.Message, historyWindow int, userMessage string) []provider.ChatMessage {
	msgs := make([]provider.ChatMessage, 0, 4+len(skillPrompts)+len(history))
	msgs = append(msgs, provider.ChatMessage{Role: "system", Content: stable.Render()})

	for _, p := range skillPrompts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		msgs = append(msgs, provider.ChatMessage{Role: "system", Content: p})
	}

	if len(memories) > 0 {
		var b strings.Builder
		b.WriteString("Relevant memory:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- (score %.3f) %s\n", m.Score, m.Record.Text)
		}
		msgs = append(msgs, provider.ChatMessage{Role: "system", Content: b.String()})
	}

	recent := history
	if historyWindow > 0 && len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	for _, m := range recent {
		msgs = append(msgs, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}

	msgs = append(msgs, provider.ChatMessage{Role: "user", Content: userMessage})
	return msgs
}

// MemorySnippets extracts the plain text of scored memory records, in
// their given (already recall-ranked) order, for callers that just need
// text rather than the full provider.ChatMessage assembly (e.g.
// synthesize_response's memory_snippets argument).
func MemorySnippets(memories []vectormemory.Scored) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Record.Text
	}
	return out
}

// ToolSummaryLines renders one line per tool for the stable prompt's tool
// listing, in the order given (callers should pass a stable, sorted order
// to preserve prefix stability).
func ToolSummaryLines(names, descriptions []string) string {
	var b strings.Builder
	for i := range names {
		fmt.Fprintf(&b, "- %s: %s\n", names[i], descriptions[i])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
