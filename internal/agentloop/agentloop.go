// Package agentloop ties every decision primitive into the fourteen-step
// turn state machine from spec §4.10:
//
//	Received -> Recalled -> Contextualized -> Scored -> Decided ->
//	(Clarifying | Acting) -> (Validated | Replanned) -> Executed ->
//	Chained? -> Synthesized -> Persisted -> Done
//
// Grounded on the teacher's internal/gateway/gateway.go processLoop/runAgent
// shape (inbound -> optional memory retrieval -> prompt assembly -> run ->
// outbound), generalized from the teacher's direct LLM-agentic delegation
// into the explicit scoring/decision/chaining machine spec.md defines.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/borhen68/picoagent/internal/contextbuilder"
	"github.com/borhen68/picoagent/internal/dualmemory"
	"github.com/borhen68/picoagent/internal/entropy"
	"github.com/borhen68/picoagent/internal/hooks"
	"github.com/borhen68/picoagent/internal/provider"
	"github.com/borhen68/picoagent/internal/session"
	"github.com/borhen68/picoagent/internal/skills"
	"github.com/borhen68/picoagent/internal/subagent"
	"github.com/borhen68/picoagent/internal/threshold"
	"github.com/borhen68/picoagent/internal/toolregistry"
	"github.com/borhen68/picoagent/internal/vectormemory"
)

// DefaultRecallK is k in spec §4.10 step 2.
const DefaultRecallK = 5

// DefaultMaxToolChain bounds step 9's re-scoring loop.
const DefaultMaxToolChain = 3

// DefaultChainMargin is the confidence margin a chained re-score must clear
// over the current threshold to continue (spec §4.10 step 9).
const DefaultChainMargin = 0.1

// DefaultTurnDeadline bounds an entire turn (spec §5's "Cancellation").
const DefaultTurnDeadline = 120 * time.Second

// DefaultConsolidationStopTimeout bounds how long Close waits for
// in-flight background consolidations before giving up.
const DefaultConsolidationStopTimeout = 5 * time.Second

// Loop wires VectorMemory, EntropyScheduler, AdaptiveThreshold, ToolRegistry,
// ProviderClient, ContextBuilder, SkillLibrary, DualMemoryStore,
// SubagentCoordinator, and HookRegistry into one per-turn orchestrator.
type Loop struct {
	Sessions   *session.Manager
	Memory     *vectormemory.Memory
	Scheduler  *entropy.Scheduler
	Threshold  *threshold.Adaptive
	Tools      *toolregistry.Registry
	Provider   provider.Client
	Skills     *skills.Library
	Consolidator *dualmemory.Store
	Subagents  *subagent.Coordinator
	Hooks      *hooks.Registry

	Stable        contextbuilder.StablePrompt
	RecallK       int
	MaxToolChain  int
	ChainMargin   float64
	HistoryWindow int
	TurnDeadline  time.Duration

	Logger *log.Logger

	bgOnce   sync.Once
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// background lazily starts the cancellable context that all fire-and-forget
// consolidation goroutines share, so Close can cancel every one of them at
// once instead of hunting down per-call contexts.
func (l *Loop) background() context.Context {
	l.bgOnce.Do(func() {
		l.bgCtx, l.bgCancel = context.WithCancel(context.Background())
	})
	return l.bgCtx
}

// Close cancels any in-flight background consolidations and waits (bounded
// by DefaultConsolidationStopTimeout) for them to unwind. Spec §5's shutdown
// sequence treats "wait for in-flight turns" and "cancel background
// consolidations" as two separate steps; callers should stop routing new
// turns to HandleMessage before calling Close.
func (l *Loop) Close() {
	if l.bgCancel == nil {
		return
	}
	l.bgCancel()
	done := make(chan struct{})
	go func() {
		l.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DefaultConsolidationStopTimeout):
		l.logf("[agentloop] close: timed out waiting for background consolidations")
	}
}

// Result is what one turn produces for the channel to deliver.
type Result struct {
	Response   string
	Clarifying bool
	ToolName   string
	Chained    []string
}

func (l *Loop) recallK() int {
	if l.RecallK > 0 {
		return l.RecallK
	}
	return DefaultRecallK
}

func (l *Loop) maxToolChain() int {
	if l.MaxToolChain > 0 {
		return l.MaxToolChain
	}
	return DefaultMaxToolChain
}

func (l *Loop) chainMargin() float64 {
	if l.ChainMargin > 0 {
		return l.ChainMargin
	}
	return DefaultChainMargin
}

func (l *Loop) historyWindow() int {
	if l.HistoryWindow > 0 {
		return l.HistoryWindow
	}
	return 20
}

func (l *Loop) turnDeadline() time.Duration {
	if l.TurnDeadline > 0 {
		return l.TurnDeadline
	}
	return DefaultTurnDeadline
}

func (l *Loop) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
	}
}

// HandleMessage runs one full turn for sessionID/channel and returns the
// text to send back. Turns for the same session_id must be serialized by
// the caller (spec §5: "no concurrent turns for the same session_id");
// Loop itself does not enforce that ordering.
func (l *Loop) HandleMessage(ctx context.Context, sessionID, channel, userMessage string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.turnDeadline())
	defer cancel()

	// 1. Receive.
	state := l.Sessions.GetOrCreate(sessionID, channel)
	now := time.Now()
	state.AddMessage("user", userMessage, now)
	turnIndex := state.Len()
	l.Hooks.Fire(ctx, hooks.OnTurnStart, hooks.Context{SessionID: sessionID, TurnIndex: turnIndex, UserMessage: userMessage})

	// 2. Recall.
	memories := l.recall(ctx, userMessage)

	// 3. Skills.
	selections, skillPrompts, shortCircuit := l.selectSkills(sessionID, userMessage)

	// 4. Context.
	history := state.Slice(0, state.Len()-1) // everything before the just-appended user message
	messages := contextbuilder.Build(l.Stable, skillPrompts, memories, history, l.historyWindow(), userMessage)
	memorySnippets := contextbuilder.MemorySnippets(memories)

	toolDescriptors := l.toolDescriptors()

	// 5/6. Score + Decide, honoring an explicit skill short-circuit.
	var decision entropy.Decision
	if shortCircuit != "" {
		decision = entropy.Decision{ToolName: shortCircuit, Confidence: 1.0}
	} else {
		scores, err := l.scoreTools(ctx, messages, userMessage, toolDescriptors)
		if err != nil {
			l.logf("[agentloop] score_tools failed: %v", err)
			decision = entropy.Decision{ShouldClarify: true, Reason: "score-error"}
		} else {
			decision = l.Scheduler.Decide(scores, l.Threshold.Current())
		}
	}

	var (
		response   string
		acted      bool
		success    = true
		chainNames []string
	)

	if decision.ShouldClarify {
		response = l.synthesize(ctx, userMessage, "", false, memorySnippets)
	} else {
		acted = true
		toolName := decision.ToolName
		chainDepth := 0
		var lastResult toolregistry.Result

		for {
			args, planErr := l.planArgs(ctx, userMessage, toolName, memorySnippets)
			if planErr != nil {
				decision.ShouldClarify = true
				decision.Reason = "args-invalid"
				decision.ToolName = ""
				response = l.synthesize(ctx, userMessage, "", false, memorySnippets)
				acted = false
				success = true
				break
			}

			result, err := l.Tools.Run(ctx, toolName, args)
			if err != nil {
				l.logf("[agentloop] tool %s run error: %v", toolName, err)
				response = l.synthesize(ctx, userMessage, "", false, memorySnippets)
				success = false
				break
			}
			lastResult = result
			success = result.Success
			chainNames = append(chainNames, toolName)

			l.Hooks.Fire(ctx, hooks.OnToolResult, hooks.Context{
				SessionID: sessionID, TurnIndex: turnIndex, UserMessage: userMessage,
				ToolResult: &hooks.ToolResultView{ToolName: toolName, Success: result.Success, Output: result.Output, Error: result.Error, LatencyMs: result.LatencyMs},
			})

			if !result.Success || chainDepth >= l.maxToolChain()-1 {
				break
			}

			nextScores, err := l.scoreTools(ctx, messages, userMessage+"\n"+result.Output, toolDescriptors)
			if err != nil {
				break
			}
			nextDecision := l.Scheduler.Decide(nextScores, l.Threshold.Current())
			if nextDecision.ShouldClarify || nextDecision.ToolName == toolName {
				break
			}
			if nextDecision.Confidence < l.Threshold.Current()+l.chainMargin() {
				break
			}
			toolName = nextDecision.ToolName
			chainDepth++
		}

		if response == "" {
			response = l.synthesize(ctx, userMessage, lastResult.Output, true, memorySnippets)
		}

		if review := l.maybeReview(ctx, decision.Confidence, userMessage, toolName, lastResult); review != "" {
			response = response + "\n\n" + review
		}
	}

	// 11. Memory store.
	l.storeMemory(ctx, userMessage, response)

	// 12. Adaptive update.
	entropyAtDecision := decision.EntropyBits
	l.Threshold.Observe(acted, success, entropyAtDecision)

	// Persist the assistant turn and record skill usage.
	state.AddMessage("assistant", response, time.Now())
	l.recordSkillUse(sessionID, selections)

	// 13. Consolidation check: fired in the background so the turn never
	// blocks on an LLM round-trip (spec §4.7/§5); failures are logged only.
	if l.Consolidator != nil {
		l.dispatchConsolidation(sessionID)
	}

	// 14. Persist.
	if err := l.Sessions.Save(); err != nil {
		l.logf("[agentloop] session save failed: %v", err)
	}
	l.Hooks.Fire(ctx, hooks.OnTurnEnd, hooks.Context{
		SessionID: sessionID, TurnIndex: turnIndex, UserMessage: userMessage, Response: response,
		ScoresSnapshot: decision.Probabilities, Decision: decisionLabel(decision),
	})

	return Result{Response: response, Clarifying: decision.ShouldClarify, ToolName: decision.ToolName, Chained: chainNames}, nil
}

func decisionLabel(d entropy.Decision) string {
	if d.ShouldClarify {
		return "clarify:" + d.Reason
	}
	return "act:" + d.ToolName
}

func (l *Loop) recall(ctx context.Context, userMessage string) []vectormemory.Scored {
	vecs, err := l.Provider.Embed(ctx, []string{userMessage})
	if err != nil || len(vecs) == 0 {
		l.logf("[agentloop] embed failed: %v", err)
		return nil
	}
	scored, err := l.Memory.Recall(vecs[0], l.recallK(), time.Now())
	if err != nil {
		l.logf("[agentloop] recall failed: %v", err)
		return nil
	}
	return scored
}

func (l *Loop) selectSkills(sessionID, userMessage string) ([]skills.Selection, []string, string) {
	if l.Skills == nil {
		return nil, nil, ""
	}
	selections, err := l.Skills.SelectForMessage(userMessage)
	if err != nil {
		l.logf("[agentloop] skill selection failed: %v", err)
		return nil, nil, ""
	}
	prompts := make([]string, 0, len(selections))
	shortCircuit := ""
	for i, sel := range selections {
		prompts = append(prompts, fmt.Sprintf("Skill %q: %s\n%s", sel.Skill.Name, sel.Skill.Description, sel.Skill.Body))
		if i == 0 && sel.Reason == "explicit-mention" && sel.Score >= 1.0 && sel.Skill.Tool != "" {
			shortCircuit = sel.Skill.Tool
		}
	}
	return selections, prompts, shortCircuit
}

func (l *Loop) recordSkillUse(sessionID string, selections []skills.Selection) {
	if l.Skills == nil || len(selections) == 0 {
		return
	}
	log := l.Skills.UsageLog()
	if log == nil {
		return
	}
	for _, sel := range selections {
		if err := log.RecordUse(sel.Skill.Name, time.Now()); err != nil {
			l.logf("[agentloop] usage log failed: %v", err)
		}
	}
}

func (l *Loop) toolDescriptors() []provider.ToolDescriptor {
	descs := l.Tools.List()
	out := make([]provider.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		schemaJSON := ""
		if d.Schema != nil {
			if b, err := json.Marshal(d.Schema); err == nil {
				schemaJSON = string(b)
			}
		}
		out = append(out, provider.ToolDescriptor{Name: d.Name, Description: d.Description, SchemaJSON: schemaJSON})
	}
	return out
}

func (l *Loop) scoreTools(ctx context.Context, messages []provider.ChatMessage, userMessage string, tools []provider.ToolDescriptor) (map[string]float64, error) {
	systemPrompt := ""
	if len(messages) > 0 {
		systemPrompt = messages[0].Content
	}
	return l.Provider.ScoreTools(ctx, systemPrompt, userMessage, tools)
}

func (l *Loop) planArgs(ctx context.Context, userMessage, toolName string, memorySnippets []string) (map[string]any, error) {
	descriptor, ok := l.Tools.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("agentloop: unknown tool %q", toolName)
	}
	schemaJSON := ""
	if descriptor.Schema != nil {
		if b, err := json.Marshal(descriptor.Schema); err == nil {
			schemaJSON = string(b)
		}
	}
	td := provider.ToolDescriptor{Name: descriptor.Name, Description: descriptor.Description, SchemaJSON: schemaJSON}

	args, err := l.Provider.PlanToolArgs(ctx, userMessage, td, memorySnippets)
	if err == nil {
		if verr := l.Tools.Validate(toolName, args); verr == nil {
			return args, nil
		}
	}

	// Args invalid or planning failed: spec §4.10 step 7's fallback path.
	local := &provider.LocalHeuristicClient{}
	args, err = local.PlanToolArgs(ctx, userMessage, td, memorySnippets)
	if err != nil {
		return nil, err
	}
	if verr := l.Tools.Validate(toolName, args); verr != nil {
		return nil, fmt.Errorf("agentloop: args-invalid: %w", verr)
	}
	return args, nil
}

func (l *Loop) synthesize(ctx context.Context, userMessage, toolOutput string, hasResult bool, memorySnippets []string) string {
	resp, err := l.Provider.SynthesizeResponse(ctx, userMessage, toolOutput, hasResult, memorySnippets)
	if err != nil {
		l.logf("[agentloop] synthesize failed: %v", err)
		return "I wasn't able to generate a response just now. Could you rephrase?"
	}
	return resp
}

func (l *Loop) storeMemory(ctx context.Context, userMessage, response string) {
	text := userMessage + "\n" + response
	vecs, err := l.Provider.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return
	}
	if _, err := l.Memory.Store(text, vecs[0], time.Now(), nil); err != nil {
		l.logf("[agentloop] memory store failed: %v", err)
	}
}

// dispatchConsolidation fires MaybeConsolidate on a tracked goroutine bound
// to Loop's shared background context rather than the turn's ctx (which is
// cancelled the moment HandleMessage returns). The singleflight coalescing
// inside dualmemory.Store still matters here: a slow consolidation from one
// turn can still be in flight when a later turn for the same session_id
// crosses the trigger threshold again.
func (l *Loop) dispatchConsolidation(sessionID string) {
	bgCtx := l.background()
	l.bgWG.Add(1)
	go func() {
		defer l.bgWG.Done()
		if err := l.Consolidator.MaybeConsolidate(bgCtx, sessionID); err != nil {
			l.logf("[agentloop] consolidation failed: %v", err)
		}
	}()
}

func (l *Loop) maybeReview(ctx context.Context, confidence float64, userMessage, toolName string, result toolregistry.Result) string {
	if l.Subagents == nil {
		return ""
	}
	artifact := subagent.Artifact{ToolName: toolName, Data: result.Data, Output: result.Output}
	review, err := l.Subagents.MaybeReview(ctx, confidence, userMessage, artifact)
	if err != nil {
		l.logf("[agentloop] subagent review skipped: %v", err)
		return ""
	}
	return review
}
