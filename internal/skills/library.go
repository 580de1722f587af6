package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Library is the SkillLibrary contract from spec §4.5: list/select with
// mtime-cached hot reload, dependency and pipeline resolution, and use
// telemetry.
type Library struct {
	mu     sync.RWMutex
	dir    string
	skills map[string]Skill // name -> skill
	mtimes map[string]int64 // dir entry name -> unix nanos, cache key for reload
	logger *log.Logger
	usage  *UsageLog
}

// New builds a Library rooted at dir. dir may not exist yet; List will
// simply report no skills until it does.
func New(dir string, usage *UsageLog, logger *log.Logger) *Library {
	if logger == nil {
		logger = log.Default()
	}
	return &Library{
		dir:    dir,
		skills: map[string]Skill{},
		mtimes: map[string]int64{},
		logger: logger,
		usage:  usage,
	}
}

// UsageLog returns the telemetry sink use records are appended to, or nil
// if none was configured.
func (l *Library) UsageLog() *UsageLog {
	return l.usage
}

// List rereads disk, reparsing only skill directories whose SKILL.md mtime
// changed since the last call, and returns every currently loaded skill
// sorted by name.
func (l *Library) List() ([]Skill, error) {
	if err := l.reload(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *Library) reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("skills: read dir %q: %w", l.dir, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]bool{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seen[entry.Name()] = true
		path := filepath.Join(l.dir, entry.Name(), skillFileName)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("skills: stat %q: %w", path, err)
		}
		mtime := info.ModTime().UnixNano()
		if cached, ok := l.mtimes[entry.Name()]; ok && cached == mtime {
			continue // unchanged since last load
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("skills: read %q: %w", path, err)
		}
		fm, body, err := parseFrontmatter(content)
		if err != nil {
			l.logger.Printf("[skills] skip invalid skill %s: %v", path, err)
			continue
		}
		l.skills[fm.Name] = Skill{Frontmatter: fm, Body: body, Path: path, ModTime: info.ModTime()}
		l.mtimes[entry.Name()] = mtime
	}

	// Drop skills (and their mtime cache entries) whose directory disappeared.
	for dirName := range l.mtimes {
		if !seen[dirName] {
			delete(l.mtimes, dirName)
		}
	}
	for name, s := range l.skills {
		if !seen[filepath.Base(filepath.Dir(s.Path))] {
			delete(l.skills, name)
		}
	}
	return nil
}

var explicitMentionRE = regexp.MustCompile(`\$([a-zA-Z0-9_-]+)`)

// SelectForMessage implements select_for_message per spec §4.5.
func (l *Library) SelectForMessage(text string) ([]Selection, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	byName := make(map[string]Skill, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	primary, reason, score := pickPrimary(text, all)
	if primary == nil {
		return nil, nil
	}

	out := []Selection{{Skill: *primary, Score: score, Reason: reason}}
	visited := map[string]bool{primary.Name: true}

	requires, cycleErr := resolveRequires(*primary, byName, visited)
	out = append(out, requires...)

	if len(primary.Pipeline) > 0 {
		for _, name := range primary.Pipeline {
			if visited[name] {
				continue
			}
			if s, ok := byName[name]; ok {
				visited[name] = true
				out = append(out, Selection{Skill: s, Score: score, Reason: "pipeline"})
			}
		}
	}

	if cycleErr != nil {
		l.logger.Printf("[skills] %v; falling back to primary alone", cycleErr)
		return []Selection{{Skill: *primary, Score: score, Reason: reason}}, nil
	}
	return out, nil
}

func pickPrimary(text string, all []Skill) (*Skill, string, float64) {
	lower := strings.ToLower(text)

	for _, m := range explicitMentionRE.FindAllStringSubmatch(text, -1) {
		for i := range all {
			if strings.EqualFold(all[i].Name, m[1]) {
				return &all[i], "explicit-mention", 1.0
			}
		}
	}
	for i := range all {
		if strings.Contains(lower, strings.ToLower(all[i].Name)) {
			return &all[i], "explicit-mention", 1.0
		}
	}

	best := -1
	bestScore := 0.0
	scores := tfidfScores(text, all)
	for i, s := range scores {
		if s > bestScore {
			bestScore = s
			best = i
		}
	}
	if best == -1 || bestScore <= 0 {
		return nil, "", 0
	}
	return &all[best], "tfidf", bestScore
}

// resolveRequires walks primary.Requires transitively, terminating cycles
// via an ancestor (on-path) set per spec §4.5 ("dependency cycle terminates
// by visited-set"). visited tracks skills already fully resolved anywhere
// in the selection (so a shared, non-circular dependency in a diamond-shape
// requires graph is only emitted once, not flagged as a cycle); onPath
// tracks only the current DFS branch, so re-entering an ancestor is the
// sole condition that raises a SkillCycle. A SkillCycle is returned (but
// resolution still proceeds with what was collected before detecting it)
// so the caller can decide to fall back to the primary alone.
func resolveRequires(primary Skill, byName map[string]Skill, visited map[string]bool) ([]Selection, error) {
	var out []Selection
	var cycleErr error
	onPath := map[string]bool{primary.Name: true}
	var walk func(name string)
	walk = func(name string) {
		if onPath[name] {
			if cycleErr == nil {
				cycleErr = &SkillCycle{Path: name}
			}
			return
		}
		if visited[name] {
			return
		}
		s, ok := byName[name]
		if !ok {
			return
		}
		onPath[name] = true
		visited[name] = true
		out = append(out, Selection{Skill: s, Score: 0, Reason: "requires"})
		for _, dep := range s.Requires {
			walk(dep)
		}
		delete(onPath, name)
	}
	for _, name := range primary.Requires {
		walk(name)
	}
	return out, cycleErr
}
