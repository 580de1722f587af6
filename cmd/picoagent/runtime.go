package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/borhen68/picoagent/internal/agentloop"
	"github.com/borhen68/picoagent/internal/channel"
	"github.com/borhen68/picoagent/internal/config"
	"github.com/borhen68/picoagent/internal/contextbuilder"
	"github.com/borhen68/picoagent/internal/dualmemory"
	"github.com/borhen68/picoagent/internal/entropy"
	"github.com/borhen68/picoagent/internal/hooks"
	"github.com/borhen68/picoagent/internal/maintenance"
	"github.com/borhen68/picoagent/internal/mcpclient"
	"github.com/borhen68/picoagent/internal/provider"
	"github.com/borhen68/picoagent/internal/session"
	"github.com/borhen68/picoagent/internal/skills"
	"github.com/borhen68/picoagent/internal/subagent"
	"github.com/borhen68/picoagent/internal/threshold"
	"github.com/borhen68/picoagent/internal/toolregistry"
	"github.com/borhen68/picoagent/internal/toolregistry/builtin"
	"github.com/borhen68/picoagent/internal/vectormemory"
)

// runtime bundles every long-lived component main's subcommands share, so
// that agent/gateway/doctor/tools/etc. all build from the same wiring path
// instead of duplicating it.
type runtime struct {
	cfg        *config.Config
	logger     *log.Logger
	sessions   *session.Manager
	memory     *vectormemory.Memory
	memoryPath string
	scheduler  *entropy.Scheduler
	threshold  *threshold.Adaptive
	tools      *toolregistry.Registry
	provider   provider.Client
	skills     *skills.Library
	consolidator *dualmemory.Store
	subagents  *subagent.Coordinator
	hooks      *hooks.Registry
	mcp        *mcpclient.Manager
	loop       *agentloop.Loop
	channels   *channel.Manager
	maintain   *maintenance.Ticker
	stopWatch  context.CancelFunc
}

// providerConsolidator adapts a provider.Client into dualmemory.Summarizer.
type providerConsolidator struct{ client provider.Client }

func (p providerConsolidator) Consolidate(ctx context.Context, messages []session.Message) (string, []string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	reply, err := p.client.Chat(ctx, []provider.ChatMessage{
		{Role: "system", Content: "Summarize this conversation window as JSON {\"history_entry\": string, \"memory_update\": [string]}."},
		{Role: "user", Content: b.String()},
	}, provider.ChatOptions{Temperature: 0.2, MaxTokens: 400})
	if err != nil {
		return "", nil, err
	}
	return dualmemory.ParseConsolidationReply(reply)
}

// providerReviewer adapts a provider.Client into subagent.Reviewer.
type providerReviewer struct{ client provider.Client }

func (p providerReviewer) Review(ctx context.Context, prompt string) (string, error) {
	return p.client.Chat(ctx, []provider.ChatMessage{
		{Role: "user", Content: prompt},
	}, provider.ChatOptions{Temperature: 0.3, MaxTokens: 300})
}

// buildProvider constructs the configured vendor client wrapped in a
// FallbackClient over the local heuristic client, per spec §4.6.
func buildProvider(cfg *config.Config, logger *log.Logger) (provider.Client, error) {
	local := provider.NewLocalHeuristicClient()
	if cfg.Provider == "local" || cfg.APIKey == "" {
		return local, nil
	}

	var primary provider.Client
	var err error
	switch cfg.Provider {
	case "anthropic":
		primary, err = provider.NewAnthropicClient(provider.AnthropicConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.ChatModel,
		})
	case "openai":
		primary, err = provider.NewOpenAIClient(provider.OpenAIConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	default:
		return nil, fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	return &provider.FallbackClient{
		Primary: primary,
		Local:   local,
		OnFallback: func(op string, ferr error) {
			logger.Printf("[provider] falling back to local for %s: %v", op, ferr)
		},
	}, nil
}

// buildRuntime wires every component from cfg. It never starts channels or
// background tickers; callers do that selectively (agent vs gateway).
func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	sessionPath := filepath.Join(cfg.WorkspaceRoot, "sessions.json")
	sessions, err := session.NewManager(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	memoryPath := filepath.Join(cfg.WorkspaceRoot, "memory.vec")
	mem := vectormemory.New()
	if err := mem.Load(memoryPath); err != nil {
		logger.Printf("[runtime] vector memory load: %v", err)
	}

	prov, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := toolregistry.New(toolregistry.Config{
		CacheTTLSeconds:      cfg.ToolCacheTTLSeconds,
		MaxCacheEntries:      cfg.MaxCacheEntries,
		GlobalTimeoutSeconds: cfg.ToolTimeoutSeconds,
		Logger:               logger,
	})
	if cfg.AllowFileTool {
		ft := &builtin.FileTool{WorkspaceRoot: cfg.WorkspaceRoot, Restrict: cfg.RestrictToWorkspace}
		if err := reg.Register(ft.Descriptor(), ft.Run); err != nil {
			return nil, fmt.Errorf("register file tool: %w", err)
		}
	}
	if cfg.AllowShell {
		st := &builtin.ShellTool{WorkspaceRoot: cfg.WorkspaceRoot, DenyPatterns: cfg.ShellDenyPatterns}
		if err := reg.Register(st.Descriptor(), st.Run); err != nil {
			return nil, fmt.Errorf("register shell tool: %w", err)
		}
	}

	mcp := mcpclient.New()
	if len(cfg.MCPServers) > 0 {
		for _, regErr := range mcp.RegisterAll(context.Background(), cfg.MCPServers, reg) {
			logger.Printf("[runtime] mcp register: %v", regErr)
		}
	}

	skillsDir := filepath.Join(cfg.WorkspaceRoot, "skills")
	usageLog := skills.NewUsageLog(filepath.Join(cfg.WorkspaceRoot, "skill_usage.jsonl"))
	skillLib := skills.New(skillsDir, usageLog, logger)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		if err := skillLib.Watch(watchCtx); err != nil {
			logger.Printf("[runtime] skill watch disabled: %v", err)
		}
	}()

	thresholdPath := filepath.Join(cfg.WorkspaceRoot, "threshold.json")
	adaptive := threshold.New(thresholdPath, threshold.DefaultInitial)

	consolidator := dualmemory.New(cfg.WorkspaceRoot, cfg.ConsolidationWindow, providerConsolidator{prov}, sessions)
	coordinator := &subagent.Coordinator{
		MinConfidence: cfg.SubagentMinConf,
		Budget:        time.Duration(cfg.SubagentBudgetSecs) * time.Second,
		Reviewer:      providerReviewer{prov},
	}

	hookRegistry := hooks.New(logger)

	descs := reg.List()
	names := make([]string, 0, len(descs))
	descriptions := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
		descriptions = append(descriptions, d.Description)
	}
	stable := contextbuilder.StablePrompt{
		Persona:     "You are picoagent, a local personal-assistant runtime that routes to tools only when confident.",
		Workspace:   cfg.WorkspaceRoot,
		ToolSummary: contextbuilder.ToolSummaryLines(names, descriptions),
	}

	loop := &agentloop.Loop{
		Sessions:     sessions,
		Memory:       mem,
		Scheduler:    entropy.New(threshold.DefaultInitial),
		Threshold:    adaptive,
		Tools:        reg,
		Provider:     prov,
		Skills:       skillLib,
		Consolidator: consolidator,
		Subagents:    coordinator,
		Hooks:        hookRegistry,
		Stable:       stable,
		RecallK:      cfg.RecallK,
		MaxToolChain: cfg.MaxToolChain,
		ChainMargin:  cfg.ChainMargin,
		Logger:       logger,
	}

	chMgr := channel.NewManager(logger)
	if cfg.Channels.CLI.Enabled {
		chMgr.Register(channel.NewCLIChannel("cli", os.Stdin, os.Stdout))
	}
	if cfg.Channels.Telegram.Enabled {
		tg, err := channel.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowFrom)
		if err != nil {
			logger.Printf("[runtime] telegram channel disabled: %v", err)
		} else {
			chMgr.Register(tg)
		}
	}

	maint := maintenance.New(mem, memoryPath, "", logger)

	return &runtime{
		cfg: cfg, logger: logger, sessions: sessions, memory: mem, memoryPath: memoryPath,
		scheduler: loop.Scheduler, threshold: adaptive, tools: reg, provider: prov,
		skills: skillLib, consolidator: consolidator, subagents: coordinator, hooks: hookRegistry,
		mcp: mcp, loop: loop, channels: chMgr, maintain: maint, stopWatch: stopWatch,
	}, nil
}

func (r *runtime) close() {
	r.mcp.Close()
	r.maintain.Stop()
	r.loop.Close()
	r.stopWatch()
	if err := r.sessions.Save(); err != nil {
		r.logger.Printf("[runtime] session save on close: %v", err)
	}
	if err := r.memory.Save(r.memoryPath); err != nil {
		r.logger.Printf("[runtime] memory save on close: %v", err)
	}
}
