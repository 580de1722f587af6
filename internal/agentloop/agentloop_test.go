package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/borhen68/picoagent/internal/contextbuilder"
	"github.com/borhen68/picoagent/internal/dualmemory"
	"github.com/borhen68/picoagent/internal/entropy"
	"github.com/borhen68/picoagent/internal/hooks"
	"github.com/borhen68/picoagent/internal/provider"
	"github.com/borhen68/picoagent/internal/session"
	"github.com/borhen68/picoagent/internal/threshold"
	"github.com/borhen68/picoagent/internal/toolregistry"
	"github.com/borhen68/picoagent/internal/vectormemory"
)

type fakeProvider struct {
	scores   map[string]float64
	args     map[string]any
	response string
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeProvider) Chat(ctx context.Context, messages []provider.ChatMessage, opts provider.ChatOptions) (string, error) {
	return f.response, nil
}

func (f *fakeProvider) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []provider.ToolDescriptor) (map[string]float64, error) {
	return f.scores, nil
}

func (f *fakeProvider) PlanToolArgs(ctx context.Context, userMessage string, tool provider.ToolDescriptor, snippets []string) (map[string]any, error) {
	return f.args, nil
}

func (f *fakeProvider) SynthesizeResponse(ctx context.Context, userMessage, toolOutput string, hasToolResult bool, memorySnippets []string) (string, error) {
	return f.response, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestLoop(t *testing.T, p provider.Client) (*Loop, *session.Manager) {
	t.Helper()
	sessions, err := session.NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	reg := toolregistry.New(toolregistry.Config{})
	_ = reg.Register(toolregistry.Descriptor{Name: "echo", Schema: &toolregistry.Schema{Type: "object"}}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.Result{Output: "echoed", Success: true}, nil
	})

	loop := &Loop{
		Sessions:  sessions,
		Memory:    vectormemory.New(),
		Scheduler: entropy.New(1.5),
		Threshold: threshold.New("", threshold.DefaultInitial),
		Tools:     reg,
		Provider:  p,
		Hooks:     hooks.New(nil),
		Stable:    contextbuilder.StablePrompt{Persona: "You are picoagent.", Workspace: "/tmp/ws"},
	}
	return loop, sessions
}

func TestHandleMessage_ClarifiesOnNoSignal(t *testing.T) {
	p := &fakeProvider{scores: map[string]float64{}, response: "please clarify"}
	loop, _ := newTestLoop(t, p)

	res, err := loop.HandleMessage(context.Background(), "sess-1", "cli", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Clarifying {
		t.Fatalf("expected clarifying decision, got %+v", res)
	}
}

func TestHandleMessage_ActsOnClearSignal(t *testing.T) {
	p := &fakeProvider{
		scores:   map[string]float64{"echo": 10},
		args:     map[string]any{},
		response: "here is your answer",
	}
	loop, _ := newTestLoop(t, p)

	res, err := loop.HandleMessage(context.Background(), "sess-2", "cli", "echo this")
	if err != nil {
		t.Fatal(err)
	}
	if res.Clarifying {
		t.Fatalf("expected an act decision, got clarify: %+v", res)
	}
	if res.ToolName != "echo" {
		t.Fatalf("got tool %q", res.ToolName)
	}
}

func TestHandleMessage_PersistsHistory(t *testing.T) {
	p := &fakeProvider{scores: map[string]float64{}, response: "ok"}
	loop, sessions := newTestLoop(t, p)

	if _, err := loop.HandleMessage(context.Background(), "sess-3", "cli", "hi"); err != nil {
		t.Fatal(err)
	}
	state, ok := sessions.Get("sess-3")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if state.Len() != 2 {
		t.Fatalf("expected 2 history messages (user+assistant), got %d", state.Len())
	}
}

func TestHandleMessage_ArgsInvalidClarifiesWithoutFailureDecay(t *testing.T) {
	// Neither the provider's planned args (nil, missing "path") nor the
	// local-heuristic fallback's {"path": ...} (rejected because the schema
	// declares no properties) validate, so planArgs returns the terminal
	// args-invalid error.
	p := &fakeProvider{
		scores:   map[string]float64{"strict": 10},
		args:     nil,
		response: "please clarify",
	}
	loop, _ := newTestLoop(t, p)
	_ = loop.Tools.Register(toolregistry.Descriptor{
		Name:   "strict",
		Schema: &toolregistry.Schema{Type: "object", Required: []string{"path"}},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		t.Fatal("tool must not run when args are invalid")
		return toolregistry.Result{}, nil
	})

	before := loop.Threshold.Current()
	res, err := loop.HandleMessage(context.Background(), "sess-args-invalid", "cli", "use strict")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Clarifying {
		t.Fatalf("expected args-invalid to surface as a clarify, got %+v", res)
	}

	// The Clarify-decay branch (η/4 toward the floor) moves the threshold by
	// a much smaller amount than the acted-and-failed branch (η toward min)
	// would for the same starting point; assert the smaller-magnitude move.
	after := loop.Threshold.Current()
	failureDecayDelta := threshold.DefaultEta * (before - threshold.DefaultMin)
	actualDelta := before - after
	if actualDelta >= failureDecayDelta {
		t.Fatalf("threshold moved as much as the failure-decay branch would (acted=true path): before=%v after=%v", before, after)
	}
}

// blockingSummarizer implements dualmemory.Summarizer but blocks until the
// test releases it, letting TestHandleMessage_ConsolidationRunsInBackground
// observe that a turn returns without waiting for it.
type blockingSummarizer struct{ release chan struct{} }

func (s *blockingSummarizer) Consolidate(ctx context.Context, messages []session.Message) (string, []string, error) {
	<-s.release
	return "consolidated", []string{"a fact worth keeping"}, nil
}

func TestHandleMessage_ConsolidationRunsInBackground(t *testing.T) {
	p := &fakeProvider{scores: map[string]float64{}, response: "ok"}
	loop, sessions := newTestLoop(t, p)

	workspace := t.TempDir()
	summarizer := &blockingSummarizer{release: make(chan struct{})}
	loop.Consolidator = dualmemory.New(workspace, 1, summarizer, sessions)

	start := time.Now()
	if _, err := loop.HandleMessage(context.Background(), "sess-consolidate", "cli", "hi"); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("turn blocked on consolidation instead of dispatching it in the background: %v", elapsed)
	}

	if _, err := os.Stat(filepath.Join(workspace, "HISTORY.md")); err == nil {
		t.Fatal("expected consolidation to still be in flight, but HISTORY.md already exists")
	}

	close(summarizer.release)
	loop.Close()

	if _, err := os.Stat(filepath.Join(workspace, "HISTORY.md")); err != nil {
		t.Fatalf("expected Close to wait for the background consolidation to finish, got: %v", err)
	}
}

// slowProvider blocks until ctx is done before returning, so tests can
// observe what HandleMessage does when a provider call actually overruns
// the turn deadline instead of merely finishing fast under a lenient one.
type slowProvider struct {
	fakeProvider
}

func (p *slowProvider) ScoreTools(ctx context.Context, systemPrompt, userMessage string, tools []provider.ToolDescriptor) (map[string]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleMessage_RespectsTurnDeadline(t *testing.T) {
	p := &slowProvider{fakeProvider{scores: map[string]float64{"echo": 1}, response: "ok"}}
	loop, _ := newTestLoop(t, p)
	loop.TurnDeadline = 20 * time.Millisecond

	start := time.Now()
	res, err := loop.HandleMessage(context.Background(), "sess-4", "cli", "hi")
	elapsed := time.Since(start)

	// A blown deadline degrades to a clarifying turn rather than propagating
	// a Go error — HandleMessage always completes the turn (spec §5).
	if err != nil {
		t.Fatalf("expected the turn to still complete, got error: %v", err)
	}
	if !res.Clarifying {
		t.Fatalf("expected a deadline-driven clarify, got %+v", res)
	}
	if elapsed > time.Second {
		t.Fatalf("HandleMessage did not return promptly once the deadline expired: %v", elapsed)
	}
}

func TestHandleMessage_GenerousDeadlineCompletesNormally(t *testing.T) {
	p := &fakeProvider{scores: map[string]float64{}, response: "ok"}
	loop, _ := newTestLoop(t, p)
	loop.TurnDeadline = time.Minute

	if _, err := loop.HandleMessage(context.Background(), "sess-5", "cli", "hi"); err != nil {
		t.Fatal(err)
	}
}
