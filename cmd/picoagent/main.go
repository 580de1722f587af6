// Command picoagent is the CLI entrypoint: onboarding, a single-shot or
// REPL agent mode, the always-on gateway, and a handful of operational
// subcommands (tool/skill/MCP inspection, memory pruning, threshold
// stats, session export/import). Grounded on the teacher's cmd/myclaw
// cobra structure — root command with flat subcommands, config loaded
// once per invocation, exit codes distinguishing user error from
// unreachable-provider error.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/borhen68/picoagent/internal/channel"
	"github.com/borhen68/picoagent/internal/config"
	"github.com/borhen68/picoagent/internal/session"
	"github.com/borhen68/picoagent/internal/skills"
	"github.com/borhen68/picoagent/internal/vectormemory"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitUserError      = 1
	exitConfigError    = 2
	exitProviderUnreach = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{Use: "picoagent", Short: "picoagent - local personal-assistant runtime"}

	var messageFlag string
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the agent loop in single-message or REPL mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), messageFlag, os.Stdin, os.Stdout, os.Stderr)
		},
	}
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "single message to send instead of starting a REPL")

	gatewayCmd := &cobra.Command{Use: "gateway", Short: "Start all enabled channels, MCP servers, and the maintenance ticker", RunE: runGateway}
	onboardCmd := &cobra.Command{Use: "onboard", Short: "Initialize config and workspace", RunE: runOnboard}
	providersCmd := &cobra.Command{Use: "providers", Short: "Show the configured and effective provider", RunE: runProviders}
	toolsCmd := &cobra.Command{Use: "tools", Short: "List registered tools", RunE: runTools}
	mcpCmd := &cobra.Command{Use: "mcp", Short: "List configured MCP servers and their tools", RunE: runMCP}
	importSkillsCmd := &cobra.Command{Use: "import-skills", Short: "Reload skills and report what was loaded", RunE: runReloadSkills}
	reloadSkillsCmd := &cobra.Command{Use: "reload-skills", Short: "Force a skill library reload", RunE: runReloadSkills}
	doctorCmd := &cobra.Command{Use: "doctor", Short: "Run startup health checks", RunE: runDoctor}

	installSkillCmd := &cobra.Command{
		Use:   "install-skill <user/repo>",
		Short: "Fetch a SKILL.md from a GitHub repo into the skills directory",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runInstallSkill(cmd.Context(), args[0]) },
	}

	var olderThan string
	var minScore float64
	pruneCmd := &cobra.Command{
		Use:   "prune-memory",
		Short: "Prune vector memory records older than a threshold",
		RunE:  func(cmd *cobra.Command, args []string) error { return runPruneMemory(olderThan, minScore) },
	}
	pruneCmd.Flags().StringVar(&olderThan, "older-than", "2160h", "prune records older than this duration (e.g. 720h)")
	pruneCmd.Flags().Float64Var(&minScore, "min-score", 0, "also prune records whose recall score would fall below this")

	thresholdStatsCmd := &cobra.Command{Use: "threshold-stats", Short: "Print AdaptiveThreshold counters", RunE: runThresholdStats}

	exportSessionCmd := &cobra.Command{
		Use:   "export-session <id>",
		Short: "Print a session's history as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runExportSession(args[0]) },
	}
	importSessionCmd := &cobra.Command{
		Use:   "import-session <file>",
		Short: "Load a session JSON file previously produced by export-session",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runImportSession(args[0]) },
	}

	root.AddCommand(agentCmd, gatewayCmd, onboardCmd, providersCmd, toolsCmd, mcpCmd,
		importSkillsCmd, installSkillCmd, reloadSkillsCmd, doctorCmd, pruneCmd,
		thresholdStatsCmd, exportSessionCmd, importSessionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// exitCodeFor classifies an error into spec §6's three failure exit codes.
func exitCodeFor(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "config:"):
		return exitConfigError
	case strings.Contains(msg, "provider:") || strings.Contains(msg, "unreachable"):
		return exitProviderUnreach
	default:
		return exitUserError
	}
}

func loadConfigOrFail() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func runAgent(ctx context.Context, message string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if message != "" {
		res, err := rt.loop.HandleMessage(ctx, "cli", "cli", message)
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Fprintln(stdout, res.Response)
		return nil
	}

	fmt.Fprintln(stdout, "picoagent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		res, err := rt.loop.HandleMessage(ctx, "cli-repl", "cli", input)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, res.Response)
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := rt.maintain.Start(ctx); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	inbound := make(chan channel.Inbound, 64)
	errs := rt.channels.StartAll(ctx, inbound)

	go func() {
		for e := range errs {
			rt.logger.Printf("[gateway] channel error: %v", e)
		}
		close(inbound)
	}()

	rt.logger.Printf("[gateway] running, channels=%v", rt.channels.EnabledChannels())
	for msg := range inbound {
		sessionID := msg.Channel + ":" + msg.ChatID
		res, err := rt.loop.HandleMessage(ctx, sessionID, msg.Channel, msg.Text)
		if err != nil {
			rt.logger.Printf("[gateway] turn failed: %v", err)
			continue
		}
		if err := rt.channels.Send(ctx, msg.Channel, msg.ChatID, res.Response); err != nil {
			rt.logger.Printf("[gateway] send failed: %v", err)
		}
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dirs := []string{
		cfg.WorkspaceRoot,
		filepath.Join(cfg.WorkspaceRoot, "skills"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
	}
	writeIfNotExists(filepath.Join(cfg.WorkspaceRoot, "MEMORY.md"), "")
	writeIfNotExists(filepath.Join(cfg.WorkspaceRoot, "HISTORY.md"), "")

	fmt.Printf("Workspace ready: %s\n", cfg.WorkspaceRoot)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to choose a provider\n", cfgPath)
	fmt.Println("  2. Or set ANTHROPIC_API_KEY / OPENAI_API_KEY")
	fmt.Println("  3. Run 'picoagent agent -m \"hello\"' to test")
	return nil
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0o644)
	}
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	fmt.Printf("configured provider: %s\n", cfg.Provider)
	fmt.Printf("chat model:          %s\n", cfg.ChatModel)
	fmt.Printf("embedding model:     %s\n", cfg.EmbeddingModel)
	if cfg.APIKey == "" {
		fmt.Println("api key:             not set (falling back to local heuristic client)")
	} else {
		fmt.Println("api key:             set")
	}
	return nil
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	for _, d := range rt.tools.List() {
		fmt.Printf("%-16s %s\n", d.Name, d.Description)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	if len(cfg.MCPServers) == 0 {
		fmt.Println("no MCP servers configured")
		return nil
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	for _, srv := range cfg.MCPServers {
		fmt.Printf("%s: command=%q url=%q\n", srv.Name, srv.Command, srv.URL)
		for _, d := range rt.tools.List() {
			if strings.HasPrefix(d.Name, srv.Name+".") {
				fmt.Printf("  %-24s %s\n", d.Name, d.Description)
			}
		}
	}
	return nil
}

func runReloadSkills(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	dir := filepath.Join(cfg.WorkspaceRoot, "skills")
	usageLog := skills.NewUsageLog(filepath.Join(cfg.WorkspaceRoot, "skill_usage.jsonl"))
	lib := skills.New(dir, usageLog, nil)
	skillsList, err := lib.List()
	if err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	fmt.Printf("loaded %d skill(s) from %s\n", len(skillsList), dir)
	for _, s := range skillsList {
		fmt.Printf("  %s: %s\n", s.Name, s.Description)
	}
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		fmt.Println("config:      FAIL", err)
		return err
	}
	fmt.Println("config:      OK", config.ConfigPath())

	if _, err := os.Stat(cfg.WorkspaceRoot); err != nil {
		fmt.Println("workspace:   MISSING (run 'picoagent onboard')")
	} else {
		fmt.Println("workspace:   OK", cfg.WorkspaceRoot)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Println("runtime:     FAIL", err)
		return err
	}
	defer rt.close()
	fmt.Printf("provider:    OK (%s)\n", rt.provider.Name())
	fmt.Printf("tools:       OK (%d registered)\n", len(rt.tools.List()))
	fmt.Printf("memory:      OK (%d records)\n", rt.memory.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := rt.provider.Embed(ctx, []string{"doctor check"}); err != nil {
		fmt.Println("provider ping: FAIL", err)
		return fmt.Errorf("provider: unreachable: %w", err)
	}
	fmt.Println("provider ping: OK")
	return nil
}

func runInstallSkill(ctx context.Context, spec string) error {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("install-skill: expected <user/repo>, got %q", spec)
	}
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://raw.githubusercontent.com/%s/main/SKILL.md", spec)
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("install-skill: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("install-skill: %s returned %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	destDir := filepath.Join(cfg.WorkspaceRoot, "skills", parts[1])
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(destDir, "SKILL.md")
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return err
	}
	fmt.Printf("installed %s -> %s\n", spec, dest)
	return nil
}

func runPruneMemory(olderThan string, minScore float64) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	dur, err := time.ParseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("prune-memory: invalid --older-than %q: %w", olderThan, err)
	}
	memoryPath := filepath.Join(cfg.WorkspaceRoot, "memory.vec")
	mem := vectormemory.New()
	if err := mem.Load(memoryPath); err != nil {
		return fmt.Errorf("prune-memory: load: %w", err)
	}
	removed := mem.Prune(dur, minScore)
	if err := mem.Save(memoryPath); err != nil {
		return fmt.Errorf("prune-memory: save: %w", err)
	}
	fmt.Printf("pruned %d record(s), %d remain\n", removed, mem.Len())
	return nil
}

func runThresholdStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	st := rt.threshold.Stats()
	fmt.Printf("threshold: %.4f bits\n", st.Threshold)
	fmt.Printf("samples:   %d\n", st.Samples)
	fmt.Printf("successes: %d\n", st.Successes)
	fmt.Printf("failures:  %d\n", st.Failures)
	fmt.Printf("clarifies: %d\n", st.Clarifies)
	return nil
}

func runExportSession(id string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	sessionPath := filepath.Join(cfg.WorkspaceRoot, "sessions.json")
	mgr, err := session.NewManager(sessionPath)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	state, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("export-session: unknown session %q", id)
	}
	data, err := json.MarshalIndent(struct {
		SessionID string            `json:"session_id"`
		Channel   string            `json:"channel"`
		History   []session.Message `json:"history"`
	}{id, state.Channel, state.RecentHistory(state.Len())}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runImportSession(path string) error {
	cfg, err := loadConfigOrFail()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("import-session: %w", err)
	}
	var payload struct {
		SessionID string            `json:"session_id"`
		Channel   string            `json:"channel"`
		History   []session.Message `json:"history"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("import-session: decode: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("import-session: file has no session_id")
	}

	sessionPath := filepath.Join(cfg.WorkspaceRoot, "sessions.json")
	mgr, err := session.NewManager(sessionPath)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	state := mgr.GetOrCreate(payload.SessionID, payload.Channel)
	for _, m := range payload.History {
		state.AddMessage(m.Role, m.Content, m.Timestamp)
	}
	if err := mgr.Save(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	fmt.Printf("imported %d message(s) into session %q\n", len(payload.History), payload.SessionID)
	return nil
}
