// Package toolconfig materializes the backend tool-configuration artifact.
//
// The dispatcher passes the generated file to the backend via --mcp-config;
// when no tool servers are configured the generator returns an empty path and
// the flag is omitted entirely.
package toolconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/logger"
)

// Generator produces the tool-configuration file consumed by the backend.
type Generator interface {
	// Generate returns the path of a config file ready to hand to the
	// backend, or "" when there is nothing to configure.
	Generate() (string, error)
}

// MCPFileGenerator writes the configured MCP server table as a JSON file
// under the tools directory. The file is rewritten on every call so registry
// edits take effect without a restart; callers get the same path back.
type MCPFileGenerator struct {
	mu    sync.Mutex
	tools config.ToolsConfig
}

func NewMCPFileGenerator(tools config.ToolsConfig) *MCPFileGenerator {
	return &MCPFileGenerator{tools: tools}
}

// mcpFile is the on-disk shape the backend expects.
type mcpFile struct {
	MCPServers map[string]config.MCPServer `json:"mcpServers"`
}

func (g *MCPFileGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.tools.MCPServers) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(g.tools.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create tools dir: %w", err)
	}

	data, err := json.MarshalIndent(mcpFile{MCPServers: g.tools.MCPServers}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool config: %w", err)
	}

	path := filepath.Join(g.tools.Dir, "mcp.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write tool config: %w", err)
	}

	logger.DebugCF("toolconfig", "Tool configuration written", map[string]any{
		"path":    path,
		"servers": len(g.tools.MCPServers),
	})
	return path, nil
}

// Static returns a Generator that always yields the given path. Useful for
// tests and for pointing the backend at a hand-maintained file.
func Static(path string) Generator {
	return staticGenerator(path)
}

type staticGenerator string

func (s staticGenerator) Generate() (string, error) { return string(s), nil }
