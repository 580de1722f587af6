package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// LocalHeuristicDimension is the fixed embedding size the deterministic
// hashing embedder produces.
const LocalHeuristicDimension = 64

// LocalHeuristicClient is the mandatory fallback from spec §4.6: no network
// calls, deterministic keyword-overlap scoring, and a stable hash-based
// embedding so VectorMemory still has something to index against when no
// vendor is configured or reachable.
type LocalHeuristicClient struct{}

func NewLocalHeuristicClient() *LocalHeuristicClient { return &LocalHeuristicClient{} }

func (c *LocalHeuristicClient) Name() string { return "local" }

// Embed hashes each token into a fixed-size bag-of-hashes vector,
// L2-normalized. Deterministic: the same text always yields the same
// vector, which is the only property VectorMemory's cosine recall needs.
func (c *LocalHeuristicClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, LocalHeuristicDimension)
	for _, tok := range tokenize(text) {
		h := sha256.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint32(h[:4]) % LocalHeuristicDimension
		sign := float32(1)
		if h[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1 // avoid an all-zero vector, which VectorMemory treats as no-signal
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Chat produces a short deterministic reply. It never calls out; it exists
// so the loop always has a synthesis path even fully offline.
func (c *LocalHeuristicClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("(local) noted: %s", truncate(last.Content, 200)), nil
}

// ScoreTools scores each tool by token overlap between userMessage and the
// tool's name+description, i.e. the deterministic keyword rule spec §4.6
// requires of the fallback.
func (c *LocalHeuristicClient) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []ToolDescriptor) (map[string]float64, error) {
	queryTokens := tokenSet(userMessage)
	scores := make(map[string]float64, len(tools))
	for _, t := range tools {
		docTokens := tokenSet(t.Name + " " + t.Description)
		overlap := 0
		for tok := range queryTokens {
			if docTokens[tok] {
				overlap++
			}
		}
		scores[t.Name] = float64(overlap) + 0.01 // small floor so an unrelated tool isn't exactly zero
	}
	return scores, nil
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}

// looseSchema decodes just enough of a tool's JSON schema for PlanToolArgs's
// heuristic — kept local (rather than importing internal/toolregistry.Schema)
// so the provider interface stays opaque to the schema's real shape, per
// ToolDescriptor.SchemaJSON's own doc comment.
type looseSchema struct {
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// PlanToolArgs makes a best-effort argument guess: every string-typed
// required field is filled with the user message itself, everything else is
// left for schema validation to reject (which the loop treats as
// "args-invalid" and reroutes to Clarify per spec §4.10 step 7).
func (c *LocalHeuristicClient) PlanToolArgs(ctx context.Context, userMessage string, tool ToolDescriptor, snippets []string) (map[string]any, error) {
	args := map[string]any{}

	var schema looseSchema
	if tool.SchemaJSON != "" {
		_ = json.Unmarshal([]byte(tool.SchemaJSON), &schema)
	}
	for _, name := range schema.Required {
		prop, ok := schema.Properties[name]
		if !ok || prop.Type == "" || prop.Type == "string" {
			args[name] = userMessage
		}
	}

	if len(args) == 0 {
		// No schema to read (or no required fields): fall back to the
		// generic guess so downstream validation still has something to
		// reject rather than an empty payload.
		args["query"] = userMessage
	}
	return args, nil
}

// SynthesizeResponse formats a plain, deterministic answer.
func (c *LocalHeuristicClient) SynthesizeResponse(ctx context.Context, userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error) {
	var b strings.Builder
	if hasToolResult {
		b.WriteString(strings.TrimSpace(toolOutput))
	} else {
		b.WriteString("I don't have a configured model to reason further, but here's what I can say directly: ")
		b.WriteString(truncate(userMessage, 300))
	}
	if len(memorySnippets) > 0 {
		sorted := append([]string(nil), memorySnippets...)
		sort.Strings(sorted)
		b.WriteString("\n\n(relevant memory: ")
		b.WriteString(strings.Join(sorted, "; "))
		b.WriteString(")")
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
