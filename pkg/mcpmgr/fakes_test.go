package mcpmgr

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, reg Registry) *Manager {
	t.Helper()
	m := NewManager(reg, &ManagerOptions{Logger: discardLogger(), AcceptTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// rpcRequest is what fake servers decode from incoming POST bodies.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Name    string          `json:"name"`

	Path   string      `json:"-"`
	Header http.Header `json:"-"`
}

func (r rpcRequest) isEnvelope() bool { return r.JSONRPC == "2.0" }

func decodeRPCRequest(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &req), "body: %s", body)
	req.Path = r.URL.Path
	req.Header = r.Header.Clone()
	return req
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// httpToolServer is a stateless MCP server answering every POST with respond.
type httpToolServer struct {
	*httptest.Server
	hits atomic.Int32

	mu       sync.Mutex
	requests []rpcRequest
}

func newHTTPToolServer(t *testing.T, respond func(w http.ResponseWriter, req rpcRequest)) *httpToolServer {
	t.Helper()
	s := &httpToolServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		req := decodeRPCRequest(t, r)
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		respond(w, req)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *httpToolServer) received() []rpcRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rpcRequest(nil), s.requests...)
}

func toolListResponse(id int64, names ...string) map[string]any {
	tools := make([]map[string]any, 0, len(names))
	for _, n := range names {
		tools = append(tools, map[string]any{"name": n, "description": n + " tool"})
	}
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"tools": tools}}
}

// sseToolServer speaks the SSE session protocol: GET /sse announces
// /message?session_id=<n> and POST /message answers on the stream with
// whatever respond returns.
type sseToolServer struct {
	*httptest.Server
	t *testing.T

	gets  atomic.Int32
	posts atomic.Int32

	// skipEndpoint suppresses the endpoint announcement.
	skipEndpoint atomic.Bool

	mu      sync.Mutex
	stream  chan string
	respond func(s *sseToolServer, req rpcRequest) []string
	quit    chan struct{}
}

func newSSEToolServer(t *testing.T, respond func(s *sseToolServer, req rpcRequest) []string) *sseToolServer {
	t.Helper()
	s := &sseToolServer{t: t, respond: respond, quit: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleStream)
	mux.HandleFunc("POST /message", s.handleMessage)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(s.quit)
		s.CloseClientConnections()
		s.Close()
	})
	return s
}

func (s *sseToolServer) handleStream(w http.ResponseWriter, r *http.Request) {
	n := s.gets.Add(1)
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := make(chan string, 64)
	s.mu.Lock()
	s.stream = ch
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if !s.skipEndpoint.Load() {
		fmt.Fprintf(w, "event: endpoint\ndata: /message?session_id=%d\n\n", n)
	}
	flusher.Flush()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\r\n\r\n", line)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		}
	}
}

func (s *sseToolServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	s.posts.Add(1)
	req := decodeRPCRequest(s.t, r)
	lines := s.respond(s, req)
	s.push(lines...)
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// push queues payloads on the current stream.
func (s *sseToolServer) push(lines ...string) {
	s.mu.Lock()
	ch := s.stream
	s.mu.Unlock()
	if ch == nil {
		return
	}
	for _, l := range lines {
		ch <- l
	}
}

// endStream closes the current stream so the client sees EOF.
func (s *sseToolServer) endStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		close(s.stream)
		s.stream = nil
	}
}

func frameJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func sseRecord(id, name, baseURL string) ServerRecord {
	return ServerRecord{ID: id, Name: name, TransportType: TransportSSE, BaseURL: baseURL, Enabled: true}
}

func httpRecord(id, name, baseURL string) ServerRecord {
	return ServerRecord{ID: id, Name: name, TransportType: TransportHTTP, BaseURL: baseURL, Enabled: true}
}
