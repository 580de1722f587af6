package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// UsageRecord is one line of the skill_usage.jsonl telemetry file.
type UsageRecord struct {
	Skill     string    `json:"skill"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageLog appends usage records to a durable JSONL file. record_use per
// spec §4.5 is fire-and-forget from the caller's perspective; the log
// itself just needs an append that survives concurrent turns.
type UsageLog struct {
	mu   sync.Mutex
	path string
}

func NewUsageLog(path string) *UsageLog {
	return &UsageLog{path: path}
}

// RecordUse appends one usage record. Failures are returned to the caller
// (typically AgentLoop, which logs and continues per spec §4.10's
// "Hook errors -> logged and dropped" failure posture extended here to
// telemetry).
func (u *UsageLog) RecordUse(skillName string, ts time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.OpenFile(u.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("skills: open usage log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(UsageRecord{Skill: skillName, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("skills: marshal usage record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("skills: write usage record: %w", err)
	}
	return nil
}
