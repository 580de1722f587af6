package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
}

// AnthropicClient implements Client against the Anthropic Messages API.
// Grounded on agentsdk-go's pkg/model/anthropic.go for the client
// construction and MessageNewParams shape, trimmed to the operations
// ProviderClient actually needs and without that file's CLI-identity
// header spoofing (out of scope for a library client).
type AnthropicClient struct {
	client     anthropicsdk.Client
	model      string
	maxTokens  int
	maxRetries int
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropicsdk.ModelClaude3_5HaikuLatest)
	}
	return &AnthropicClient{
		client:     anthropicsdk.NewClient(opts...),
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: retries,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) messages(msgs []ChatMessage) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropicsdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropicsdk.NewAssistantMessage(block))
		} else {
			out = append(out, anthropicsdk.NewUserMessage(block))
		}
	}
	return out
}

func (c *AnthropicClient) Chat(ctx context.Context, msgs []ChatMessage, opts ChatOptions) (string, error) {
	maxTokens := int64(c.maxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  c.messages(msgs),
	}

	resp, err := withRetry(ctx, c.maxRetries, func() (*anthropicsdk.Message, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		return "", &TransportError{Provider: "anthropic", Err: err}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", &DecodeError{Provider: "anthropic", Err: fmt.Errorf("empty response content")}
	}
	return b.String(), nil
}

// Embed is not offered by the Messages API; AnthropicClient delegates to
// the local heuristic embedder so callers that only configured a chat
// vendor still get a usable (if weaker) embedding space.
func (c *AnthropicClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return (&LocalHeuristicClient{}).Embed(ctx, texts)
}

func (c *AnthropicClient) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []ToolDescriptor) (map[string]float64, error) {
	prompt := buildScorePrompt(systemPrompt, userMessage, tools)
	reply, err := c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 256})
	if err != nil {
		return nil, err
	}
	scores, err := parseScoreReply(reply, tools)
	if err != nil {
		return nil, &DecodeError{Provider: "anthropic", Err: err}
	}
	return scores, nil
}

func (c *AnthropicClient) PlanToolArgs(ctx context.Context, userMessage string, tool ToolDescriptor, snippets []string) (map[string]any, error) {
	prompt := buildPlanPrompt(userMessage, tool, snippets)
	reply, err := c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 512})
	if err != nil {
		return nil, err
	}
	args, err := parseArgsReply(reply)
	if err != nil {
		return nil, &DecodeError{Provider: "anthropic", Err: err}
	}
	return args, nil
}

func (c *AnthropicClient) SynthesizeResponse(ctx context.Context, userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error) {
	prompt := buildSynthesisPrompt(userMessage, toolOutput, hasToolResult, memorySnippets)
	return c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 1024})
}

// --- shared prompt/parse helpers (also used by OpenAIClient) ---------

func buildScorePrompt(systemPrompt, userMessage string, tools []ToolDescriptor) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nGiven the user message, output a JSON object mapping each tool name to a non-negative relevance score.\nTools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	fmt.Fprintf(&b, "\nUser message: %s\nRespond with ONLY the JSON object.", userMessage)
	return b.String()
}

func parseScoreReply(reply string, tools []ToolDescriptor) (map[string]float64, error) {
	cleaned := stripCodeFence(reply)
	var raw map[string]float64
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(tools))
	for _, t := range tools {
		scores[t.Name] = raw[t.Name]
	}
	return scores, nil
}

func buildPlanPrompt(userMessage string, tool ToolDescriptor, snippets []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan arguments for tool %q (%s).\nSchema: %s\n", tool.Name, tool.Description, tool.SchemaJSON)
	if len(snippets) > 0 {
		b.WriteString("Context:\n")
		for _, s := range snippets {
			b.WriteString("- " + s + "\n")
		}
	}
	fmt.Fprintf(&b, "User message: %s\nRespond with ONLY a JSON object of arguments.", userMessage)
	return b.String()
}

func parseArgsReply(reply string) (map[string]any, error) {
	cleaned := stripCodeFence(reply)
	var args map[string]any
	if err := json.Unmarshal([]byte(cleaned), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func buildSynthesisPrompt(userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) string {
	var b strings.Builder
	b.WriteString("Answer the user's message.\n")
	if hasToolResult {
		fmt.Fprintf(&b, "Tool output:\n%s\n", toolOutput)
	}
	if len(memorySnippets) > 0 {
		b.WriteString("Relevant memory:\n")
		for _, s := range memorySnippets {
			b.WriteString("- " + s + "\n")
		}
	}
	fmt.Fprintf(&b, "User message: %s\n", userMessage)
	return b.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
