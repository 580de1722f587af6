package skills

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, skillFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLibrary_List(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather\ntags: [weather, forecast]\n---\nUse the weather tool.")

	lib := New(dir, nil, nil)
	got, err := lib.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "weather" {
		t.Fatalf("got %+v", got)
	}
}

func TestLibrary_SkipsInvalidFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "broken", "no frontmatter here")
	writeSkill(t, dir, "ok", "---\nname: ok\ndescription: fine\n---\nbody")

	lib := New(dir, nil, nil)
	got, err := lib.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "ok" {
		t.Fatalf("got %+v", got)
	}
}

func TestLibrary_MtimeCache(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather\n---\nv1")

	lib := New(dir, nil, nil)
	if _, err := lib.List(); err != nil {
		t.Fatal(err)
	}
	if got := lib.skills["weather"].Body; got != "v1" {
		t.Fatalf("got %q", got)
	}

	// Rewriting without changing mtime should not update the cached body.
	path := filepath.Join(dir, "weather", skillFileName)
	info, _ := os.Stat(path)
	if err := os.WriteFile(path, []byte("---\nname: weather\ndescription: get current weather\n---\nv2"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Chtimes(path, info.ModTime(), info.ModTime())
	if _, err := lib.List(); err != nil {
		t.Fatal(err)
	}
	if got := lib.skills["weather"].Body; got != "v1" {
		t.Fatalf("expected stale cache to hold v1, got %q", got)
	}

	// Bumping mtime forces a reparse.
	future := info.ModTime().Add(time.Second)
	os.Chtimes(path, future, future)
	if _, err := lib.List(); err != nil {
		t.Fatal(err)
	}
	if got := lib.skills["weather"].Body; got != "v2" {
		t.Fatalf("expected refreshed cache to hold v2, got %q", got)
	}
}

func TestLibrary_SelectForMessage_ExplicitMention(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather forecast\n---\nbody")
	writeSkill(t, dir, "calendar", "---\nname: calendar\ndescription: manage calendar events\n---\nbody")

	lib := New(dir, nil, nil)
	sel, err := lib.SelectForMessage("what does $weather look like tomorrow")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 1 || sel[0].Skill.Name != "weather" || sel[0].Reason != "explicit-mention" {
		t.Fatalf("got %+v", sel)
	}
}

func TestLibrary_SelectForMessage_TFIDF(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather forecast temperature\n---\nbody")
	writeSkill(t, dir, "calendar", "---\nname: calendar\ndescription: manage calendar events meetings\n---\nbody")

	lib := New(dir, nil, nil)
	sel, err := lib.SelectForMessage("will it rain, what is the temperature forecast")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) == 0 || sel[0].Skill.Name != "weather" || sel[0].Reason != "tfidf" {
		t.Fatalf("got %+v", sel)
	}
}

func TestLibrary_SelectForMessage_Requires(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather\nrequires: [units]\n---\nbody")
	writeSkill(t, dir, "units", "---\nname: units\ndescription: unit conversion helper\n---\nbody")

	lib := New(dir, nil, nil)
	sel, err := lib.SelectForMessage("$weather please")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 2 || sel[1].Skill.Name != "units" || sel[1].Reason != "requires" {
		t.Fatalf("got %+v", sel)
	}
}

func TestLibrary_SelectForMessage_CircularRequiresFallsBackToPrimary(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a", "---\nname: a\ndescription: skill a\nrequires: [b]\n---\nbody")
	writeSkill(t, dir, "b", "---\nname: b\ndescription: skill b\nrequires: [a]\n---\nbody")

	lib := New(dir, nil, nil)
	sel, err := lib.SelectForMessage("$a now")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 1 || sel[0].Skill.Name != "a" {
		t.Fatalf("expected fallback to primary alone, got %+v", sel)
	}
}

func TestLibrary_SelectForMessage_DiamondRequiresIsNotACycle(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "primary", "---\nname: primary\ndescription: primary skill\nrequires: [b, c]\n---\nbody")
	writeSkill(t, dir, "b", "---\nname: b\ndescription: skill b\nrequires: [d]\n---\nbody")
	writeSkill(t, dir, "c", "---\nname: c\ndescription: skill c\nrequires: [d]\n---\nbody")
	writeSkill(t, dir, "d", "---\nname: d\ndescription: shared dependency\n---\nbody")

	lib := New(dir, nil, nil)
	sel, err := lib.SelectForMessage("$primary go")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 4 {
		t.Fatalf("expected primary + b + c + d (d once), got %+v", sel)
	}
	names := map[string]int{}
	for _, s := range sel {
		names[s.Skill.Name]++
	}
	if names["d"] != 1 {
		t.Fatalf("expected shared dependency d to appear exactly once, got %d: %+v", names["d"], sel)
	}
	if names["b"] != 1 || names["c"] != 1 || names["primary"] != 1 {
		t.Fatalf("expected each skill to appear exactly once, got %+v", sel)
	}
}

func TestUsageLog_RecordUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skill_usage.jsonl")
	log := NewUsageLog(path)
	if err := log.RecordUse("weather", time.Now()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty usage log")
	}
}
