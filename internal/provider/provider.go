// Package provider defines the ProviderClient abstraction from spec §4.6:
// a small closed set of LLM-backed operations (embed, chat, score_tools,
// plan_tool_args, synthesize_response), a deterministic local-heuristic
// fallback that is always available, and one HTTP-backed client per vendor
// sharing a common retry path (spec §9's Design Note: "variant or
// interface... one client per vendor sharing a common HTTP path").
package provider

import (
	"context"
	"errors"
)

// ChatOptions bounds a single chat call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// ChatMessage is one turn of a chat-style request.
type ChatMessage struct {
	Role    string
	Content string
}

// ToolDescriptor is the minimal shape score_tools/plan_tool_args need; it
// mirrors internal/toolregistry.Descriptor without importing it, so the
// provider package has no dependency on the tool registry.
type ToolDescriptor struct {
	Name        string
	Description string
	SchemaJSON  string // JSON-encoded schema, opaque to the provider interface
}

// Client is the ProviderClient contract.
type Client interface {
	// Embed returns one fixed-dimension vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Chat returns the assistant's reply text.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
	// ScoreTools returns a non-negative score per tool name.
	ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []ToolDescriptor) (map[string]float64, error)
	// PlanToolArgs proposes an argument map for the named tool.
	PlanToolArgs(ctx context.Context, userMessage string, tool ToolDescriptor, contextSnippets []string) (map[string]any, error)
	// SynthesizeResponse produces the final user-facing text for a turn.
	SynthesizeResponse(ctx context.Context, userMessage string, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error)
	// Name identifies the client for logging ("local", "anthropic", "openai").
	Name() string
}

// TransportError wraps a network/HTTP failure reaching a provider (spec §7
// ProviderTransport). Recovered automatically by falling back to the local
// heuristic client.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string { return "provider transport (" + e.Provider + "): " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a malformed provider response (spec §7 ProviderDecode).
type DecodeError struct {
	Provider string
	Err      error
}

func (e *DecodeError) Error() string { return "provider decode (" + e.Provider + "): " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// FallbackClient wraps a primary Client and a LocalHeuristicClient,
// automatically retrying on the local client whenever the primary returns a
// TransportError or DecodeError. Per spec §4.6, fallback happens only on
// error — never silently after a success.
type FallbackClient struct {
	Primary Client
	Local   *LocalHeuristicClient
	OnFallback func(op string, err error)
}

func (f *FallbackClient) Name() string { return f.Primary.Name() + "+fallback" }

func (f *FallbackClient) report(op string, err error) {
	if f.OnFallback != nil {
		f.OnFallback(op, err)
	}
}

func (f *FallbackClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := f.Primary.Embed(ctx, texts)
	if isRecoverable(err) {
		f.report("embed", err)
		return f.Local.Embed(ctx, texts)
	}
	return out, err
}

func (f *FallbackClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error) {
	out, err := f.Primary.Chat(ctx, messages, opts)
	if isRecoverable(err) {
		f.report("chat", err)
		return f.Local.Chat(ctx, messages, opts)
	}
	return out, err
}

func (f *FallbackClient) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []ToolDescriptor) (map[string]float64, error) {
	out, err := f.Primary.ScoreTools(ctx, systemPrompt, userMessage, tools)
	if isRecoverable(err) {
		f.report("score_tools", err)
		return f.Local.ScoreTools(ctx, systemPrompt, userMessage, tools)
	}
	return out, err
}

func (f *FallbackClient) PlanToolArgs(ctx context.Context, userMessage string, tool ToolDescriptor, snippets []string) (map[string]any, error) {
	out, err := f.Primary.PlanToolArgs(ctx, userMessage, tool, snippets)
	if isRecoverable(err) {
		f.report("plan_tool_args", err)
		return f.Local.PlanToolArgs(ctx, userMessage, tool, snippets)
	}
	return out, err
}

func (f *FallbackClient) SynthesizeResponse(ctx context.Context, userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error) {
	out, err := f.Primary.SynthesizeResponse(ctx, userMessage, toolOutput, hasToolResult, memorySnippets)
	if isRecoverable(err) {
		f.report("synthesize_response", err)
		return f.Local.SynthesizeResponse(ctx, userMessage, toolOutput, hasToolResult, memorySnippets)
	}
	return out, err
}

func isRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var t *TransportError
	var d *DecodeError
	return errors.As(err, &t) || errors.As(err, &d)
}
