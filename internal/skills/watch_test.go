package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLibrary_WatchPicksUpEditsInsideSkillSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: get current weather\n---\nv1")

	lib := New(dir, nil, nil)
	if _, err := lib.List(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "weather", skillFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("---\nname: weather\ndescription: get current weather\n---\nv2"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := info.ModTime().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lib.mu.RLock()
		body := lib.skills["weather"].Body
		lib.mu.RUnlock()
		if body == "v2" {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("expected the watcher to notice the write inside the skill subdirectory")
}
