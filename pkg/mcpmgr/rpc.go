package mcpmgr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const (
	methodListTools = "tools/list"
	methodCallTool  = "tools/call"
)

// wireTool is a tool definition as advertised by a remote server.
type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func newCallParams(name string, args map[string]any) callParams {
	if args == nil {
		args = map[string]any{}
	}
	return callParams{Name: name, Arguments: args}
}

// encodeRequest renders a JSON-RPC 2.0 request envelope.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	rid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, fmt.Errorf("make request id: %w", err)
	}
	return jsonrpc.EncodeMessage(&jsonrpc.Request{ID: rid, Method: method, Params: raw})
}

// rpcFrame is a loosely decoded JSON-RPC response. Servers are not required
// to send the "jsonrpc" version member, so go-sdk's strict decoder is not
// used on the receive path.
type rpcFrame struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`

	raw []byte
}

func decodeFrame(data []byte) (*rpcFrame, error) {
	var f rpcFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	f.raw = append([]byte(nil), data...)
	return &f, nil
}

// numericID returns the frame id when it is an integral JSON number.
func (f *rpcFrame) numericID() (int64, bool) {
	if !present(f.ID) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(f.ID, &n); err != nil {
		return 0, false
	}
	if n != math.Trunc(n) {
		return 0, false
	}
	return int64(n), true
}

func (f *rpcFrame) err() error {
	return decodeRPCError(f.Error)
}

func decodeRPCError(raw json.RawMessage) error {
	if !present(raw) {
		return nil
	}
	var rpcErr RPCError
	if err := json.Unmarshal(raw, &rpcErr); err == nil {
		return &rpcErr
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &RPCError{Message: msg}
	}
	return &RPCError{Message: string(raw)}
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

var errNoToolsMember = errors.New("response carries neither result.tools nor tools")

// parseToolList accepts, in order, {"result":{"tools":[...]}} and
// {"tools":[...]}. A JSON-RPC error member fails the parse.
func parseToolList(body []byte) ([]wireTool, error) {
	var shape struct {
		Result *struct {
			Tools *[]wireTool `json:"tools"`
		} `json:"result"`
		Tools *[]wireTool     `json:"tools"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	if err := decodeRPCError(shape.Error); err != nil {
		return nil, err
	}
	switch {
	case shape.Result != nil && shape.Result.Tools != nil:
		return *shape.Result.Tools, nil
	case shape.Tools != nil:
		return *shape.Tools, nil
	default:
		return nil, errNoToolsMember
	}
}

// parseCallBody accepts, in order, {"result":{...}}, {"content":[...]} and
// any other body, which is returned raw.
func parseCallBody(body []byte) (*ToolResult, error) {
	var shape struct {
		Result  json.RawMessage `json:"result"`
		Content json.RawMessage `json:"content"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return &ToolResult{Raw: body}, nil
	}
	if err := decodeRPCError(shape.Error); err != nil {
		return nil, err
	}
	switch {
	case present(shape.Result):
		return resultFromStructure(shape.Result), nil
	case present(shape.Content):
		return &ToolResult{Text: joinText(shape.Content), Raw: body}, nil
	default:
		return &ToolResult{Raw: body}, nil
	}
}

// resultFromFrame converts an SSE response frame into a ToolResult, falling
// back to the whole frame when it has no result member.
func resultFromFrame(f *rpcFrame) *ToolResult {
	if present(f.Result) {
		return resultFromStructure(f.Result)
	}
	return &ToolResult{Raw: f.raw}
}

func resultFromStructure(result json.RawMessage) *ToolResult {
	var inner struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(result, &inner); err != nil {
		return &ToolResult{Raw: result}
	}
	return &ToolResult{Text: joinText(inner.Content), Raw: result}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// joinText concatenates every non-empty "text" part with newlines. A single
// content object is treated as a one-element list.
func joinText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		var single contentPart
		if err := json.Unmarshal(raw, &single); err != nil {
			return ""
		}
		parts = []contentPart{single}
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
