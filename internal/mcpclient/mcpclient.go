// Package mcpclient dials the MCP servers named in config's mcp_servers[]
// and registers their tools into the same internal/toolregistry.Registry
// the built-in tools live in (spec §6). Grounded on agentsdk-go's
// pkg/mcp/mcp.go: transport-spec parsing (stdio command vs. HTTP/SSE URL),
// mcpsdk.NewClient/Connect, and the Tools()/CallTool() session shape,
// trimmed to what picoagent needs (no event-bus notification plumbing).
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/borhen68/picoagent/internal/config"
	"github.com/borhen68/picoagent/internal/toolregistry"
)

const (
	clientName    = "picoagent"
	clientVersion = "dev"
	connectTimeout = 10 * time.Second
)

// Manager owns one live session per configured MCP server.
type Manager struct {
	sessions map[string]*mcpsdk.ClientSession
}

func New() *Manager {
	return &Manager{sessions: map[string]*mcpsdk.ClientSession{}}
}

// RegisterAll dials every server in servers and registers its tools into
// reg. A server that fails to connect is skipped with an error collected
// (not fatal to startup — the other servers and the built-in tools still
// work).
func (m *Manager) RegisterAll(ctx context.Context, servers []config.MCPServerConfig, reg *toolregistry.Registry) []error {
	var errs []error
	for _, srv := range servers {
		if err := m.registerOne(ctx, srv, reg); err != nil {
			errs = append(errs, fmt.Errorf("mcpclient: %s: %w", srv.Name, err))
		}
	}
	return errs
}

func (m *Manager) registerOne(ctx context.Context, srv config.MCPServerConfig, reg *toolregistry.Registry) error {
	transport, err := buildTransport(srv)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m.sessions[srv.Name] = session

	var tools []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		if tool != nil {
			tools = append(tools, tool)
		}
	}
	if len(tools) == 0 {
		return fmt.Errorf("server returned no tools")
	}

	for _, tool := range tools {
		descriptor, runner := wrapRemoteTool(srv.Name, tool, session)
		if err := reg.Register(descriptor, runner); err != nil {
			return fmt.Errorf("register tool %q: %w", tool.Name, err)
		}
	}
	return nil
}

func wrapRemoteTool(serverName string, tool *mcpsdk.Tool, session *mcpsdk.ClientSession) (toolregistry.Descriptor, toolregistry.Runner) {
	rawSchema, _ := json.Marshal(tool.InputSchema)
	schema := schemaFromRawJSON(rawSchema)
	descriptor := toolregistry.Descriptor{
		Name:        fmt.Sprintf("%s.%s", serverName, tool.Name),
		Description: tool.Description,
		Schema:      schema,
		Cacheable:   false, // remote tools may have side effects the registry cannot see
	}
	runner := func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool.Name, Arguments: args})
		if err != nil {
			return toolregistry.Result{}, err
		}
		return toolregistry.Result{Output: renderContent(res), Success: !res.IsError}, nil
	}
	return descriptor, runner
}

func renderContent(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// schemaFromRawJSON best-effort decodes an MCP tool's raw JSON Schema into
// picoagent's own Schema subset (spec §3/§4.4). Unrecognized keywords are
// dropped rather than rejected — remote tools are still callable, just with
// weaker local validation than a native descriptor gets.
func schemaFromRawJSON(raw json.RawMessage) *toolregistry.Schema {
	if len(raw) == 0 {
		return &toolregistry.Schema{Type: "object"}
	}
	var s toolregistry.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return &toolregistry.Schema{Type: "object"}
	}
	if s.Type == "" {
		s.Type = "object"
	}
	return &s
}

func buildTransport(srv config.MCPServerConfig) (mcpsdk.Transport, error) {
	switch {
	case strings.TrimSpace(srv.Command) != "":
		parts := strings.Fields(srv.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 -- operator-configured, not user input
		for k, v := range srv.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case strings.TrimSpace(srv.URL) != "":
		return &mcpsdk.StreamableClientTransport{Endpoint: srv.URL}, nil
	default:
		return nil, fmt.Errorf("neither command nor url configured")
	}
}

// Close terminates every live MCP session.
func (m *Manager) Close() {
	for name, s := range m.sessions {
		if err := s.Close(); err != nil {
			_ = name // best-effort close; caller's logger records failures if it wants to
		}
	}
	m.sessions = map[string]*mcpsdk.ClientSession{}
}
