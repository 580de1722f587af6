// Package maintenance runs the background upkeep ticker spec.md's
// non-goals still require as an ambient concern: periodic VectorMemory
// pruning followed by a save (it does not touch the tool-result cache,
// which expires entries on read), never a user-facing scheduled-skill
// feature (that's explicitly out of scope). Grounded on the teacher's
// internal/cron/service.go for the cancel-context + robfig/cron/v3
// start/stop shape, trimmed of the job-store/user-facing-schedule surface
// (AddJob/RemoveJob/EnableJob) since maintenance tasks are fixed at
// construction, not user-authored.
package maintenance

import (
	"context"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/borhen68/picoagent/internal/vectormemory"
)

// DefaultPruneSchedule runs once a day at 03:17 local time, matching the
// teacher's convention of avoiding the top of the hour for background jobs.
const DefaultPruneSchedule = "17 3 * * *"

// PruneMemoryOlderThan is the default retention window applied by the
// scheduled memory prune (spec §6's prune-memory CLI subcommand exposes the
// same knobs on demand; this is the unattended background equivalent).
const PruneMemoryOlderThan = 90 * 24 * time.Hour

// Ticker owns one robfig/cron scheduler driving fixed background upkeep
// tasks against a VectorMemory and a save path.
type Ticker struct {
	memory     *vectormemory.Memory
	memoryPath string
	schedule   string
	logger     *log.Logger

	cron   *rcron.Cron
	cancel context.CancelFunc
}

// New builds a Ticker. A blank schedule falls back to DefaultPruneSchedule.
func New(memory *vectormemory.Memory, memoryPath, schedule string, logger *log.Logger) *Ticker {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ticker{memory: memory, memoryPath: memoryPath, schedule: schedule, logger: logger}
}

// Start registers the prune job and begins the scheduler. Stop must be
// called to release the background goroutine.
func (t *Ticker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.cron = rcron.New()
	if _, err := t.cron.AddFunc(t.schedule, t.runPrune); err != nil {
		cancel()
		return err
	}
	t.cron.Start()
	t.logger.Printf("[maintenance] started, schedule=%q", t.schedule)

	go func() {
		<-runCtx.Done()
		t.Stop()
	}()
	return nil
}

func (t *Ticker) runPrune() {
	removed := t.memory.Prune(PruneMemoryOlderThan, 0)
	if removed > 0 {
		t.logger.Printf("[maintenance] pruned %d stale memory records", removed)
	}
	if t.memoryPath != "" {
		if err := t.memory.Save(t.memoryPath); err != nil {
			t.logger.Printf("[maintenance] save after prune failed: %v", err)
		}
	}
}

// RunOnce runs the prune-and-save task immediately, outside the cron
// schedule. The CLI's prune-memory subcommand does not use it; it calls
// VectorMemory.Prune directly with its own flags.
func (t *Ticker) RunOnce() {
	t.runPrune()
}

// Stop halts the scheduler and waits (bounded) for any in-flight job.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.cron == nil {
		return
	}
	stopCtx := t.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.logger.Printf("[maintenance] stop timeout waiting for running job")
	}
}
