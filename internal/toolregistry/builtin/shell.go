package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/borhen68/picoagent/internal/toolregistry"
)

// DefaultDenyPatterns matches spec §6's destructive-pattern list, as
// word-boundary regexes rather than plain substrings, so a benign command
// sharing no token boundary with a dangerous one (e.g. a path segment named
// "sudoku") isn't blocked, while "rm -rf /" style commands aren't trivially
// defeated by extra whitespace. The rm pattern matches a flag cluster of one
// or two r/f letters only; a longer cluster such as "-rfv" or a long option
// such as "--recursive" is not matched. The deny list is
// advisory, not a sandbox (spec §9's Design Note): it reduces but does not
// eliminate risk.
var DefaultDenyPatterns = []string{
	`\brm\s+-[rf]{1,2}\b`,
	`\bmkfs\b`,
	`:\(\)\s*\{.*\};\s*:`,
	`\|\s*(ba)?sh\b`,
	`\|\s*zsh\b`,
	`\bsudo\b`,
	`\beval\b`,
	`\bchmod\s+777\b`,
	`>\s*/etc/`,
	`>\s*/dev/sd`,
}

// ShellTool implements the "shell" built-in: runs a command line through
// os/exec after checking it against DenyPatterns.
type ShellTool struct {
	WorkspaceRoot string
	DenyPatterns  []string
}

func (t *ShellTool) patterns() []string {
	if len(t.DenyPatterns) > 0 {
		return t.DenyPatterns
	}
	return DefaultDenyPatterns
}

// Descriptor returns the ToolDescriptor for registration.
func (t *ShellTool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:           "shell",
		Description:    "Run a shell command in the workspace and return its combined output.",
		Cacheable:      false,
		TimeoutSeconds: 30,
		Schema: &toolregistry.Schema{
			Type:     "object",
			Required: []string{"command"},
			Properties: map[string]*toolregistry.Schema{
				"command": {Type: "string"},
			},
		},
	}
}

// Run implements toolregistry.Runner.
func (t *ShellTool) Run(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return toolregistry.Result{Success: false, Error: "command cannot be empty"}, nil
	}
	if violated := t.denyMatch(command); violated != "" {
		return toolregistry.Result{Success: false, Error: fmt.Sprintf("command blocked by deny pattern %q", violated)}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if t.WorkspaceRoot != "" {
		cmd.Dir = t.WorkspaceRoot
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return toolregistry.Result{
			Success: false,
			Error:   fmt.Sprintf("shell-error:%s", err.Error()),
			Output:  string(output),
		}, nil
	}
	return toolregistry.Result{Success: true, Output: string(output)}, nil
}

func (t *ShellTool) denyMatch(command string) string {
	for _, pattern := range t.patterns() {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			// Not a valid regex: fall back to plain substring containment
			// so a caller-supplied literal deny word still works.
			if strings.Contains(strings.ToLower(command), strings.ToLower(pattern)) {
				return pattern
			}
			continue
		}
		if re.MatchString(command) {
			return pattern
		}
	}
	return ""
}
