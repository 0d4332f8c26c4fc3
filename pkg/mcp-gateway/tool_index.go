package mcpgateway

import (
	"bytes"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyServerName = "mcpgateway.server_name"
	metaKeyNativeName = "mcpgateway.native_name"
)

// toolIndex remembers which tools are registered on the gateway server so a
// sync only touches what changed.
type toolIndex struct {
	mu    sync.RWMutex
	tools map[string]indexedTool
}

type indexedTool struct {
	target      toolTarget
	description string
	parameters  []byte
}

type toolTarget struct {
	Name       string
	ServerID   string
	ServerName string
	NativeName string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newToolIndex() *toolIndex {
	return &toolIndex{tools: make(map[string]indexedTool)}
}

// Update replaces the index with upstream and reports the names to remove
// from the server and the tools to (re)register. Tools whose description or
// schema changed appear in added only; AddTool replaces them in place.
func (f *toolIndex) Update(upstream []mcpmgr.Tool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]indexedTool, len(upstream))
	for _, tool := range upstream {
		entry := indexedTool{
			target: toolTarget{
				Name:       tool.Name,
				ServerID:   tool.ServerID,
				ServerName: tool.ServerName,
				NativeName: tool.OriginalName,
			},
			description: tool.Description,
			parameters:  tool.Parameters,
		}
		next[tool.Name] = entry
		if prev, ok := f.tools[tool.Name]; ok && prev.equal(entry) {
			continue
		}
		added = append(added, toolRegistration{Tool: gatewayTool(tool), Target: entry.target})
	}
	for name := range f.tools {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	f.tools = next
	return removed, added
}

// ToolTarget resolves a gateway tool name to its upstream location.
func (f *toolIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.tools[name]
	return entry.target, ok
}

func (f *toolIndex) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.tools))
	for name := range f.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e indexedTool) equal(other indexedTool) bool {
	return e.target == other.target &&
		e.description == other.description &&
		bytes.Equal(e.parameters, other.parameters)
}

func gatewayTool(tool mcpmgr.Tool) *mcp.Tool {
	return &mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.Schema(),
		Meta: map[string]any{
			metaKeyServerID:   tool.ServerID,
			metaKeyServerName: tool.ServerName,
			metaKeyNativeName: tool.OriginalName,
		},
	}
}
