// Package dualmemory implements DualMemoryStore from spec §4.7: background
// consolidation of long sessions into two durable workspace artifacts,
// HISTORY.md (chronological one-liners) and MEMORY.md (semantic bullets).
// Grounded on the teacher's internal/memory ExtractionService (buffer +
// quiet-timer + LLM-summarize + durable append shape) and on
// original_source/picoagent/core/dual_memory.py's consolidate() for the
// exact trigger/offset semantics, translated from Python's asyncio task
// coalescing into golang.org/x/sync/singleflight.
package dualmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/borhen68/picoagent/internal/session"
)

// DefaultWindow is K in spec §4.7's trigger condition.
const DefaultWindow = 20

// Summarizer is the subset of ProviderClient DualMemoryStore needs. Kept
// narrow and local (rather than importing internal/provider) so this
// package has no dependency on the chat/schema plumbing it doesn't use.
type Summarizer interface {
	Consolidate(ctx context.Context, messages []session.Message) (historyEntry string, semanticBullets []string, err error)
}

// Store consolidates sessions into HISTORY.md and MEMORY.md under a
// workspace root.
type Store struct {
	workspaceRoot string
	window        int
	summarizer    Summarizer
	sessions      *session.Manager

	group singleflight.Group // coalesces concurrent triggers per session_id

	mu      sync.Mutex
	fileMus map[string]*sync.Mutex // per-artifact-file append locks
}

func New(workspaceRoot string, window int, summarizer Summarizer, sessions *session.Manager) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		workspaceRoot: workspaceRoot,
		window:        window,
		summarizer:    summarizer,
		sessions:      sessions,
		fileMus:       map[string]*sync.Mutex{},
	}
}

// ShouldConsolidate reports whether state's un-consolidated history has
// reached the trigger threshold.
func (s *Store) ShouldConsolidate(state *session.State) bool {
	offset := state.Offset()
	total := state.Len()
	return total-offset >= s.window
}

// MaybeConsolidate runs a consolidation for sessionID if due and returns
// when it has finished; AgentLoop calls it from a background goroutine so
// the turn does not wait on it. A second trigger for the same session while one is in flight is
// coalesced onto the same call (spec §4.7: "only one consolidation task
// runs per session_id concurrently"). Errors are returned to the caller
// only for logging purposes; per spec, failures never block the turn, so
// callers should not treat a non-nil error as turn-fatal.
func (s *Store) MaybeConsolidate(ctx context.Context, sessionID string) error {
	state, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	if !s.ShouldConsolidate(state) {
		return nil
	}

	_, err, _ := s.group.Do(sessionID, func() (any, error) {
		return nil, s.consolidateOnce(ctx, state)
	})
	return err
}

func (s *Store) consolidateOnce(ctx context.Context, state *session.State) error {
	offset := state.Offset()
	total := state.Len()
	if offset >= total {
		return nil
	}
	end := offset + s.window
	if end > total {
		end = total
	}
	window := state.Slice(offset, end)
	if len(window) == 0 {
		return nil
	}

	historyEntry, bullets, err := s.summarizer.Consolidate(ctx, window)
	if err != nil {
		return fmt.Errorf("dualmemory: consolidate: %w", err)
	}

	if err := s.appendHistory(historyEntry); err != nil {
		return err
	}
	if err := s.appendMemory(bullets); err != nil {
		return err
	}

	return state.AdvanceConsolidation(end)
}

func (s *Store) fileMu(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.fileMus[name]
	if !ok {
		m = &sync.Mutex{}
		s.fileMus[name] = m
	}
	return m
}

func (s *Store) appendHistory(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	line := fmt.Sprintf("- %s %s\n", time.Now().UTC().Format(time.RFC3339), entry)
	return s.appendLine("HISTORY.md", line)
}

func (s *Store) appendMemory(bullets []string) error {
	if len(bullets) == 0 {
		return nil
	}
	var b strings.Builder
	for _, bullet := range bullets {
		bullet = strings.TrimSpace(bullet)
		if bullet == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", bullet)
	}
	if b.Len() == 0 {
		return nil
	}
	return s.appendLine("MEMORY.md", b.String())
}

func (s *Store) appendLine(filename, content string) error {
	mu := s.fileMu(filename)
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(s.workspaceRoot, filename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("dualmemory: open %s: %w", filename, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("dualmemory: write %s: %w", filename, err)
	}
	return nil
}

// consolidationResponse is the shape the provider is asked to return; kept
// here (rather than in the provider package) since only dualmemory parses
// it, matching dual_memory.py's own local dict shape.
type consolidationResponse struct {
	HistoryEntry string   `json:"history_entry"`
	MemoryUpdate []string `json:"memory_update"`
}

// ParseConsolidationReply decodes a JSON-fenced provider reply into the
// (history entry, bullets) pair Consolidate must return. Exported so a
// Summarizer implementation built on provider.Client can reuse it.
func ParseConsolidationReply(reply string) (string, []string, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed consolidationResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return "", nil, fmt.Errorf("dualmemory: decode consolidation reply: %w", err)
	}
	bullets := parsed.MemoryUpdate
	if len(bullets) > 3 {
		bullets = bullets[:3]
	}
	return parsed.HistoryEntry, bullets, nil
}
