package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// httpTransport issues stateless JSON-RPC calls over plain POST. Every
// operation first sends a JSON-RPC envelope and, when that attempt fails for
// any reason, retries once with a bare JSON body on the same path.
type httpTransport struct {
	log    *slog.Logger
	pool   *clientPool
	nextID func() int64
}

func (t *httpTransport) listTools(ctx context.Context, rec ServerRecord) ([]wireTool, error) {
	client := t.pool.get(rec)
	path := rec.toolsPath()

	envelope, err := encodeRequest(t.nextID(), methodListTools, struct{}{})
	if err != nil {
		return nil, err
	}
	tools, rpcErr := t.listAttempt(ctx, client, path, envelope)
	if rpcErr == nil {
		return tools, nil
	}
	t.log.Debug("JSON-RPC tools/list failed, retrying with bare POST",
		"server", rec.Name, "server_id", rec.ID, "tools_path", path, "error", rpcErr)

	tools, bareErr := t.listAttempt(ctx, client, path, []byte("{}"))
	if bareErr == nil {
		return tools, nil
	}
	t.log.Error("HTTP fetch tools failed",
		"server", rec.Name, "server_id", rec.ID, "tools_path", path,
		"error", rpcErr, "fallback_error", bareErr)
	return nil, &TransportError{ServerID: rec.ID, Op: methodListTools, Err: errors.Join(rpcErr, bareErr)}
}

func (t *httpTransport) listAttempt(ctx context.Context, client *serverClient, path string, body []byte) ([]wireTool, error) {
	ctx, cancel := context.WithTimeout(ctx, client.record.Timeout())
	defer cancel()
	data, err := client.post(ctx, methodListTools, path, body)
	if err != nil {
		return nil, err
	}
	tools, err := parseToolList(data)
	if err != nil {
		return nil, &ProtocolError{ServerID: client.record.ID, Op: methodListTools, Err: err}
	}
	return tools, nil
}

func (t *httpTransport) callTool(ctx context.Context, rec ServerRecord, toolName string, args map[string]any) (*ToolResult, error) {
	client := t.pool.get(rec)
	path := rec.executePath(toolName)
	params := newCallParams(toolName, args)

	envelope, err := encodeRequest(t.nextID(), methodCallTool, params)
	if err != nil {
		return nil, err
	}
	res, rpcErr := t.callAttempt(ctx, client, path, envelope)
	if rpcErr == nil {
		return res, nil
	}
	t.log.Debug("JSON-RPC tools/call failed, retrying with bare POST",
		"server", rec.Name, "server_id", rec.ID, "tool", toolName, "execute_path", path, "error", rpcErr)

	bare, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: marshal call body: %w", err)
	}
	res, bareErr := t.callAttempt(ctx, client, path, bare)
	if bareErr == nil {
		return res, nil
	}
	t.log.Error("HTTP tool execution failed",
		"server", rec.Name, "server_id", rec.ID, "tool", toolName, "execute_path", path,
		"error", rpcErr, "fallback_error", bareErr)
	return nil, &TransportError{ServerID: rec.ID, Op: methodCallTool, Err: errors.Join(rpcErr, bareErr)}
}

func (t *httpTransport) callAttempt(ctx context.Context, client *serverClient, path string, body []byte) (*ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, client.record.Timeout())
	defer cancel()
	data, err := client.post(ctx, methodCallTool, path, body)
	if err != nil {
		return nil, err
	}
	return parseCallBody(data)
}
