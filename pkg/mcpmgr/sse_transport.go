package mcpmgr

import (
	"context"
	"errors"
	"log/slog"
)

// sseTransport runs list and call operations over the server's live SSE
// session, recreating the session once when an operation fails underneath it.
type sseTransport struct {
	log      *slog.Logger
	pool     *clientPool
	sessions *sessionTable
	nextID   func() int64
}

func (t *sseTransport) listTools(ctx context.Context, rec ServerRecord) ([]wireTool, error) {
	t.log.Debug("SSE list tools", "server", rec.Name, "server_id", rec.ID, "tools_path", rec.toolsPath())
	var tools []wireTool
	err := t.withSession(ctx, rec, methodListTools, func(s *sseSession) error {
		frame, err := s.call(ctx, t.nextID(), methodListTools, struct{}{})
		if err != nil {
			return err
		}
		list, err := parseToolList(frame.raw)
		switch {
		case errors.Is(err, errNoToolsMember):
			t.log.Warn("no tools found in SSE response", "server", rec.Name, "server_id", rec.ID)
			tools = nil
		case err != nil:
			return &ProtocolError{ServerID: rec.ID, Op: methodListTools, Err: err}
		default:
			tools = list
		}
		return nil
	})
	return tools, err
}

func (t *sseTransport) callTool(ctx context.Context, rec ServerRecord, toolName string, args map[string]any) (*ToolResult, error) {
	t.log.Debug("SSE call tool", "server", rec.Name, "server_id", rec.ID, "tool", toolName, "execute_path", rec.executePath(toolName))
	params := newCallParams(toolName, args)
	var res *ToolResult
	err := t.withSession(ctx, rec, methodCallTool, func(s *sseSession) error {
		frame, err := s.call(ctx, t.nextID(), methodCallTool, params)
		if err != nil {
			return err
		}
		res = resultFromFrame(frame)
		return nil
	})
	return res, err
}

// withSession runs fn against the server's session. When fn or the handshake
// fails for a reason other than a server-reported error or the caller giving
// up, the session is discarded and fn runs once more on a fresh one.
func (t *sseTransport) withSession(ctx context.Context, rec ServerRecord, op string, fn func(*sseSession) error) error {
	client := t.pool.get(rec)
	s, err := t.sessions.acquire(ctx, client)
	if err == nil {
		if err = fn(s); err == nil {
			return nil
		}
	}
	if !IsSessionFailure(err) || ctx.Err() != nil {
		return err
	}

	t.log.Warn("SSE session failed, recreating", "server", rec.Name, "server_id", rec.ID, "op", op, "error", err)
	if s != nil {
		s.close()
	}
	s, err = t.sessions.acquire(ctx, client)
	if err == nil {
		err = fn(s)
	}
	if err != nil {
		t.log.Error("SSE retry failed", "server", rec.Name, "server_id", rec.ID, "op", op, "error", err)
	}
	return err
}
