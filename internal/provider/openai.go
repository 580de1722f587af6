package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	MaxRetries     int
}

// OpenAIClient implements Client against the OpenAI chat-completions and
// embeddings APIs. Grounded on agentsdk-go's pkg/model/openai.go for client
// construction and the New()/doWithRetry() shape, replacing that file's
// bespoke retry loop with the shared withRetry helper both vendor clients
// use here.
type OpenAIClient struct {
	client         openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	maxRetries     int
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
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
		model = "gpt-4o"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
		maxRetries:     retries,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) toMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []ChatMessage, opts ChatOptions) (string, error) {
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            c.toMessages(msgs),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}

	resp, err := withRetry(ctx, c.maxRetries, func() (*openai.ChatCompletion, error) {
		return c.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", &TransportError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &DecodeError{Provider: "openai", Err: fmt.Errorf("no choices in response")}
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", &DecodeError{Provider: "openai", Err: fmt.Errorf("empty message content")}
	}
	return text, nil
}

// Embed calls the native /embeddings endpoint, unlike AnthropicClient which
// has no such endpoint to call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	resp, err := withRetry(ctx, c.maxRetries, func() (*openai.CreateEmbeddingResponse, error) {
		return c.client.Embeddings.New(ctx, params)
	})
	if err != nil {
		return nil, &TransportError{Provider: "openai", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &DecodeError{Provider: "openai", Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *OpenAIClient) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []ToolDescriptor) (map[string]float64, error) {
	prompt := buildScorePrompt(systemPrompt, userMessage, tools)
	reply, err := c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 256})
	if err != nil {
		return nil, err
	}
	scores, err := parseScoreReply(reply, tools)
	if err != nil {
		return nil, &DecodeError{Provider: "openai", Err: err}
	}
	return scores, nil
}

func (c *OpenAIClient) PlanToolArgs(ctx context.Context, userMessage string, tool ToolDescriptor, snippets []string) (map[string]any, error) {
	prompt := buildPlanPrompt(userMessage, tool, snippets)
	reply, err := c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 512})
	if err != nil {
		return nil, err
	}
	args, err := parseArgsReply(reply)
	if err != nil {
		return nil, &DecodeError{Provider: "openai", Err: err}
	}
	return args, nil
}

func (c *OpenAIClient) SynthesizeResponse(ctx context.Context, userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error) {
	prompt := buildSynthesisPrompt(userMessage, toolOutput, hasToolResult, memorySnippets)
	return c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}}, ChatOptions{MaxTokens: 1024})
}
