// Package session implements SessionState per spec §3: an append-only
// message history per (channel, sender) pair, with a monotonically
// advancing consolidation offset, persisted as JSON with atomic
// write-then-rename (spec §6, §8 "Atomicity").
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Message is one turn of conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is one session's full mutable record.
type State struct {
	SessionID            string            `json:"session_id"`
	Channel              string            `json:"channel"`
	History              []Message         `json:"history"`
	ConsolidationOffset  int               `json:"consolidation_offset"`
	Metadata             map[string]string `json:"metadata"`

	mu sync.Mutex
}

// NewState constructs an empty session.
func NewState(sessionID, channel string) *State {
	return &State{SessionID: sessionID, Channel: channel, Metadata: map[string]string{}}
}

// AddMessage appends to history. History is append-only; nothing before
// ConsolidationOffset is ever mutated or removed here.
func (s *State) AddMessage(role, content string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.IsZero() {
		ts = time.Now()
	}
	s.History = append(s.History, Message{Role: role, Content: content, Timestamp: ts})
}

// RecentHistory returns up to maxMessages of the most recent history,
// oldest first.
func (s *State) RecentHistory(maxMessages int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxMessages <= 0 || len(s.History) == 0 {
		return nil
	}
	start := len(s.History) - maxMessages
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// Offset returns the current ConsolidationOffset.
func (s *State) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ConsolidationOffset
}

// Len returns the total number of history messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.History)
}

// Slice returns a copy of History[start:end], clamped to bounds.
func (s *State) Slice(start, end int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start < 0 {
		start = 0
	}
	if end > len(s.History) {
		end = len(s.History)
	}
	if start >= end {
		return nil
	}
	out := make([]Message, end-start)
	copy(out, s.History[start:end])
	return out
}

// AdvanceConsolidation moves ConsolidationOffset forward. It refuses to move
// it backward, enforcing the "never decreases" invariant from spec §8.
func (s *State) AdvanceConsolidation(offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < s.ConsolidationOffset {
		return fmt.Errorf("session: consolidation offset must not decrease: have %d, got %d", s.ConsolidationOffset, offset)
	}
	if offset > len(s.History) {
		offset = len(s.History)
	}
	s.ConsolidationOffset = offset
	return nil
}

// SetMetadata records a first-class metadata key (no runtime attribute
// injection, per spec §9's Design Note).
func (s *State) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
}

func (s *State) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]Message, len(s.History))
	copy(hist, s.History)
	meta := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return State{
		SessionID: s.SessionID, Channel: s.Channel, History: hist,
		ConsolidationOffset: s.ConsolidationOffset, Metadata: meta,
	}
}

// Manager owns the full session_id -> State map and its on-disk
// representation. Manager only guards the map and the file; neither it
// nor AgentLoop serializes turns per session_id, so callers of
// AgentLoop.HandleMessage must not run two turns of one session at once.
type Manager struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*State
}

// NewManager loads sessions from path if it exists. A blank path disables
// persistence.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, sessions: map[string]*State{}}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetOrCreate returns the session for sessionID, creating it with channel
// on first use. Sessions are keyed by sessionID alone; channel is ignored
// when the session already exists.
func (m *Manager) GetOrCreate(sessionID, channel string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := NewState(sessionID, channel)
	m.sessions[sessionID] = s
	return s
}

// Keys returns all known session ids, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a session by id, or nil.
func (m *Manager) Get(sessionID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Remove deletes a session and persists the change.
func (m *Manager) Remove(sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Save()
}

type onDiskState struct {
	SessionID           string            `json:"session_id"`
	Channel             string            `json:"channel"`
	History             []Message         `json:"history"`
	ConsolidationOffset int               `json:"consolidation_offset"`
	Metadata            map[string]string `json:"metadata"`
}

type onDiskFile struct {
	Sessions []onDiskState `json:"sessions"`
}

// Save persists the full session map atomically (write-then-rename).
func (m *Manager) Save() error {
	m.mu.Lock()
	snapshots := make([]State, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshots = append(snapshots, s.snapshot())
	}
	path := m.path
	m.mu.Unlock()

	if path == "" {
		return nil
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].SessionID < snapshots[j].SessionID })

	out := onDiskFile{Sessions: make([]onDiskState, 0, len(snapshots))}
	for i := range snapshots {
		s := &snapshots[i]
		out.Sessions = append(out.Sessions, onDiskState{
			SessionID: s.SessionID, Channel: s.Channel, History: s.History,
			ConsolidationOffset: s.ConsolidationOffset, Metadata: s.Metadata,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *Manager) load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session: load: %w", err)
	}
	var raw onDiskFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("session: load: %w", err)
	}
	for _, s := range raw.Sessions {
		offset := s.ConsolidationOffset
		if offset < 0 {
			offset = 0
		}
		if offset > len(s.History) {
			offset = len(s.History)
		}
		meta := s.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		m.sessions[s.SessionID] = &State{
			SessionID: s.SessionID, Channel: s.Channel, History: s.History,
			ConsolidationOffset: offset, Metadata: meta,
		}
	}
	return nil
}
