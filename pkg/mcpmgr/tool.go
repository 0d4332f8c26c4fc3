package mcpmgr

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolSource tags every tool produced by this package.
const ToolSource = "mcp"

// Tool is a remotely hosted tool as exposed to the orchestration layer.
type Tool struct {
	// Name is the qualified "<serverName>__<originalName>" identifier.
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Source       string          `json:"source"`
	ServerID     string          `json:"serverId"`
	ServerName   string          `json:"serverName"`
	OriginalName string          `json:"originalName"`
}

// Schema decodes Parameters as a JSON schema. Tools whose parameters are
// missing, undecodable, or not an object schema get an empty object schema so
// they can still be registered with MCP servers that require one.
func (t Tool) Schema() *jsonschema.Schema {
	fallback := &jsonschema.Schema{Type: "object"}
	if len(t.Parameters) == 0 || string(t.Parameters) == "null" {
		return fallback
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(t.Parameters, &schema); err != nil {
		return fallback
	}
	if len(schema.Types) > 0 {
		return fallback
	}
	switch schema.Type {
	case "":
		schema.Type = "object"
	case "object":
	default:
		return fallback
	}
	return &schema
}

func newTool(rec ServerRecord, wt wireTool) Tool {
	params := wt.InputSchema
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return Tool{
		Name:         QualifiedName(rec.Name, wt.Name),
		Description:  fmt.Sprintf("[MCP: %s] %s", rec.Name, wt.Description),
		Parameters:   params,
		Source:       ToolSource,
		ServerID:     rec.ID,
		ServerName:   rec.Name,
		OriginalName: wt.Name,
	}
}

// ToolResult is the outcome of a tool call. When the response carried text
// content parts, Text holds them joined by newlines; Raw always holds the
// result structure as the server returned it.
type ToolResult struct {
	Text string
	Raw  json.RawMessage
}

// IsText reports whether text content was extracted.
func (r *ToolResult) IsText() bool {
	return r != nil && r.Text != ""
}

// Value returns the extracted text when present, otherwise the decoded raw
// result. A raw body that is not JSON is returned as a string.
func (r *ToolResult) Value() any {
	if r == nil {
		return nil
	}
	if r.Text != "" {
		return r.Text
	}
	if len(r.Raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Raw, &v); err != nil {
		return string(r.Raw)
	}
	return v
}
