// Package builtin provides the two tools picoagent ships out of the box:
// file (workspace-restricted read/write) and shell (deny-pattern gated
// command execution). Grounded on agentsdk-go's pkg/tool/builtin
// (file_sandbox.go's path-canonicalization approach, bash_unix.go's
// direct os/exec invocation), rebuilt against picoagent's own
// toolregistry.Descriptor/Runner contract instead of agentsdk-go's Tool
// interface, and without a dependency on agentsdk-go's internal sandbox
// package.
package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/borhen68/picoagent/internal/toolregistry"
)

const maxFileBytes = 1 << 20 // 1 MiB, matches the teacher's per-file cap.

// FileTool implements the "file" built-in: read/write text files, optionally
// restricted to a workspace root per spec §6.
type FileTool struct {
	WorkspaceRoot string
	Restrict      bool
}

// Descriptor returns the ToolDescriptor for registration.
func (t *FileTool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        "file",
		Description: "Read or write a text file, optionally restricted to the workspace root.",
		Cacheable:   false,
		Schema: &toolregistry.Schema{
			Type:     "object",
			Required: []string{"action", "path"},
			Properties: map[string]*toolregistry.Schema{
				"action":  {Type: "string", Enum: []any{"read", "write"}},
				"path":    {Type: "string"},
				"content": {Type: "string"},
			},
		},
	}
}

// Run implements toolregistry.Runner.
func (t *FileTool) Run(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
	action, _ := args["action"].(string)
	rawPath, _ := args["path"].(string)

	resolved, err := t.resolvePath(rawPath)
	if err != nil {
		return toolregistry.Result{Success: false, Error: err.Error()}, nil
	}

	switch action {
	case "read":
		data, err := t.readFile(resolved)
		if err != nil {
			return toolregistry.Result{Success: false, Error: err.Error()}, nil
		}
		return toolregistry.Result{Success: true, Output: data, Data: map[string]any{"path": resolved}}, nil
	case "write":
		content, _ := args["content"].(string)
		if err := t.writeFile(resolved, content); err != nil {
			return toolregistry.Result{Success: false, Error: err.Error()}, nil
		}
		return toolregistry.Result{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), resolved), Data: map[string]any{"path": resolved}}, nil
	default:
		return toolregistry.Result{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
}

func (t *FileTool) resolvePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(t.WorkspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	if t.Restrict {
		root, err := filepath.Abs(t.WorkspaceRoot)
		if err != nil {
			return "", fmt.Errorf("resolve workspace root: %w", err)
		}
		absCandidate, err := filepath.Abs(candidate)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		rel, err := filepath.Rel(root, absCandidate)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q escapes workspace root", raw)
		}
	}
	return candidate, nil
}

func (t *FileTool) readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxFileBytes {
		return "", fmt.Errorf("file exceeds %d byte limit", maxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("binary file %s is not supported", path)
	}
	return string(data), nil
}

func (t *FileTool) writeFile(path, content string) error {
	if len(content) > maxFileBytes {
		return fmt.Errorf("content exceeds %d byte limit", maxFileBytes)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
