package mcpgateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type upstreamRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type upstreamCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// upstreamReply builds the JSON-RPC response for req given the upstream's
// tool names. Calls to "fail" produce a JSON-RPC error; every other call
// echoes its arguments as text.
func upstreamReply(req upstreamRequest, tools []string) map[string]any {
	switch req.Method {
	case "tools/list":
		list := make([]map[string]any, 0, len(tools))
		for _, name := range tools {
			list = append(list, map[string]any{
				"name":        name,
				"description": "upstream " + name,
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"msg": map[string]any{"type": "string"}},
				},
			})
		}
		return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"tools": list}}
	case "tools/call":
		var call upstreamCall
		_ = json.Unmarshal(req.Params, &call)
		if call.Name == "fail" {
			return map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": "upstream refused"}}
		}
		if call.Name == "structured" {
			return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"count": 3}}
		}
		return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{
			"content": []map[string]any{{"type": "text", "text": fmt.Sprintf("%s:%v", call.Name, call.Arguments["msg"])}},
		}}
	}
	return map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "unknown method"}}
}

// newHTTPUpstream serves tools over stateless JSON-RPC POSTs. The tool list
// can be swapped while the server runs.
type httpUpstream struct {
	*httptest.Server
	mu    sync.Mutex
	tools []string
}

func newHTTPUpstream(t *testing.T, tools ...string) *httpUpstream {
	t.Helper()
	u := &httpUpstream{tools: tools}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req upstreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		names := append([]string(nil), u.tools...)
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(upstreamReply(req, names))
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *httpUpstream) setTools(tools ...string) {
	u.mu.Lock()
	u.tools = tools
	u.mu.Unlock()
}

// newSSEUpstream serves tools over an SSE session: responses to POSTs on
// /message are pushed on the GET /sse stream.
func newSSEUpstream(t *testing.T, tools ...string) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		stream chan []byte
	)
	quit := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		ch := make(chan []byte, 16)
		mu.Lock()
		stream = ch
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /message?session_id=gw\n\n")
		flusher.Flush()
		for {
			select {
			case frame := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", frame)
				flusher.Flush()
			case <-r.Context().Done():
				return
			case <-quit:
				return
			}
		}
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		var req upstreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		frame, _ := json.Marshal(upstreamReply(req, tools))
		mu.Lock()
		ch := stream
		mu.Unlock()
		if ch != nil {
			ch <- frame
		}
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(quit)
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}
