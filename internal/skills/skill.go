// Package skills implements the SkillLibrary from spec §4.5: Markdown
// skill files with a typed front-matter header, mtime-cached hot reload,
// keyword/TF-IDF selection with dependency and pipeline resolution, and
// use telemetry. Grounded on the teacher's internal/skills loader.go for
// the frontmatter-delimited Markdown parsing shape, extended with the
// requires/pipeline/tags fields and scoring the teacher's loader did not
// have.
package skills

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const skillFileName = "SKILL.md"

// Frontmatter is the typed YAML header of a skill file.
type Frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Requires    []string `yaml:"requires"`
	Pipeline    []string `yaml:"pipeline"`
	// Tool names the ToolRegistry entry this skill acts on when it wins
	// selection by explicit mention (spec §4.10 step 5's short-circuit).
	// Optional: a skill with no declared tool never short-circuits scoring.
	Tool string `yaml:"tool"`
}

// Skill is a loaded, parsed skill file.
type Skill struct {
	Frontmatter
	Body    string // Markdown body, used verbatim as the skill's prompt block
	Path    string
	ModTime time.Time
}

// Selection is one entry of select_for_message's result.
type Selection struct {
	Skill  Skill
	Score  float64
	Reason string // "explicit-mention" | "tfidf" | "requires" | "pipeline"
}

// SkillCycle reports a circular requires chain rooted at path.
type SkillCycle struct {
	Path string
}

func (e *SkillCycle) Error() string { return fmt.Sprintf("skills: circular requires at %s", e.Path) }

var errInvalidFrontmatter = errors.New("skills: invalid YAML frontmatter")

func parseFrontmatter(content []byte) (Frontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return Frontmatter{}, "", fmt.Errorf("%w: missing opening delimiter", errInvalidFrontmatter)
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return Frontmatter{}, "", fmt.Errorf("%w: missing closing delimiter", errInvalidFrontmatter)
	}
	header := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Frontmatter{}, "", fmt.Errorf("%w: %v", errInvalidFrontmatter, err)
	}
	if strings.TrimSpace(fm.Name) == "" {
		return Frontmatter{}, "", fmt.Errorf("%w: missing name", errInvalidFrontmatter)
	}
	fm.Name = strings.TrimSpace(fm.Name)
	fm.Description = strings.TrimSpace(fm.Description)
	fm.Tool = strings.TrimSpace(fm.Tool)
	fm.Tags = normalizeList(fm.Tags)
	fm.Requires = normalizeList(fm.Requires)
	fm.Pipeline = normalizeList(fm.Pipeline)
	return fm, strings.TrimSpace(body), nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
