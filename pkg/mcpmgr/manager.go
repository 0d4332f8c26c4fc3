package mcpmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Manager discovers tools across every enabled server in a Registry and routes
// calls back to the server that owns them. It is safe for concurrent use.
type Manager struct {
	registry Registry
	options  ManagerOptions
	log      *slog.Logger

	cache    *toolCache
	clients  *clientPool
	sessions *sessionTable
	fetches  singleflight.Group

	httpT *httpTransport
	sseT  *sseTransport

	requestID atomic.Int64

	mu              sync.RWMutex
	invalidateHooks []func(serverID string)
}

// NewManager constructs a Manager reading servers from reg. A nil reg behaves
// as an empty registry.
func NewManager(reg Registry, opts *ManagerOptions) *Manager {
	if reg == nil {
		reg = NewStaticRegistry()
	}
	o := opts.normalized()
	log := o.Logger.With("component", "mcpmgr")
	m := &Manager{
		registry: reg,
		options:  o,
		log:      log,
		cache:    newToolCache(o.CacheTTL),
		clients:  newClientPool(o.HTTPClient),
		sessions: newSessionTable(log, o.AcceptTimeout),
	}
	m.httpT = &httpTransport{log: log, pool: m.clients, nextID: m.nextRequestID}
	m.sseT = &sseTransport{log: log, pool: m.clients, sessions: m.sessions, nextID: m.nextRequestID}
	return m
}

func (m *Manager) nextRequestID() int64 {
	return m.requestID.Add(1)
}

// ListAvailableTools returns the tools of every enabled server, resolving
// servers concurrently. A server that cannot be reached is logged and left
// out; only a registry failure is returned as an error.
func (m *Manager) ListAvailableTools(ctx context.Context) ([]Tool, error) {
	servers, err := m.enabledServers(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]Tool, len(servers))
	var g errgroup.Group
	g.SetLimit(m.options.DiscoveryConcurrency)
	for i, rec := range servers {
		g.Go(func() error {
			tools, err := m.serverTools(ctx, rec)
			if err != nil {
				m.log.Error("failed to fetch tools", "server", rec.Name, "server_id", rec.ID, "error", err)
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var all []Tool
	for _, tools := range results {
		all = append(all, tools...)
	}
	m.log.Info("tools discovered", "servers", len(servers), "tools", len(all))
	return all, nil
}

// serverTools serves rec's tools from the cache or fetches them. Concurrent
// misses for the same server share one fetch, keyed by the cache generation
// so a caller arriving after a clear never joins a fetch that predates it.
// The shared fetch does not inherit any one caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (m *Manager) serverTools(ctx context.Context, rec ServerRecord) ([]Tool, error) {
	if tools, ok := m.cache.get(rec.ID); ok {
		m.log.Debug("using cached tools", "server", rec.Name, "server_id", rec.ID, "tools", len(tools))
		return tools, nil
	}
	gen := m.cache.generation(rec.ID)
	key := fmt.Sprintf("%s@%d.%d", rec.ID, gen.global, gen.server)
	ch := m.fetches.DoChan(key, func() (any, error) {
		if tools, ok := m.cache.get(rec.ID); ok {
			return tools, nil
		}
		fetchCtx, cancel := m.sharedContext(ctx, rec)
		defer cancel()
		tools, err := m.fetchTools(fetchCtx, rec)
		if err != nil {
			return nil, err
		}
		if !m.cache.put(rec.ID, gen, tools) {
			m.log.Debug("discarding tools fetched before a cache clear", "server", rec.Name, "server_id", rec.ID)
		}
		return tools, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneTools(res.Val.([]Tool)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sharedContext detaches work shared between callers from the caller that
// happened to start it, bounded by the longest a full fetch can take: two
// attempts, each a handshake plus a response wait and a POST hand-over.
func (m *Manager) sharedContext(ctx context.Context, rec ServerRecord) (context.Context, context.CancelFunc) {
	budget := 2 * (2*rec.Timeout() + m.options.AcceptTimeout)
	return context.WithTimeout(context.WithoutCancel(ctx), budget)
}

func (m *Manager) fetchTools(ctx context.Context, rec ServerRecord) ([]Tool, error) {
	var (
		wire []wireTool
		err  error
	)
	switch TransportOf(rec) {
	case TransportHTTP:
		wire, err = m.httpT.listTools(ctx, rec)
	case TransportSSE:
		wire, err = m.sseT.listTools(ctx, rec)
	default:
		return nil, &UnsupportedTransportError{ServerID: rec.ID, Transport: rec.TransportType}
	}
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(wire))
	for _, wt := range wire {
		tools = append(tools, newTool(rec, wt))
	}
	m.log.Info("fetched tools", "server", rec.Name, "server_id", rec.ID, "transport", TransportOf(rec), "tools", len(tools))
	return tools, nil
}

// ExecuteTool calls the tool named by a qualified "<server>__<tool>" name.
// The server must currently be enabled. Errors from the remote call are
// returned unchanged.
func (m *Manager) ExecuteTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	serverName, toolName, err := SplitQualifiedName(name)
	if err != nil {
		return nil, err
	}
	rec, err := m.findEnabled(ctx, func(r ServerRecord) bool { return r.Name == serverName })
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{ServerName: serverName}
	}

	started := time.Now()
	var res *ToolResult
	switch TransportOf(*rec) {
	case TransportHTTP:
		res, err = m.httpT.callTool(ctx, *rec, toolName, args)
	case TransportSSE:
		res, err = m.sseT.callTool(ctx, *rec, toolName, args)
	default:
		return nil, &UnsupportedTransportError{ServerID: rec.ID, Transport: rec.TransportType}
	}
	if err != nil {
		m.log.Error("tool execution failed",
			"server", rec.Name, "server_id", rec.ID, "tool", toolName, "duration", time.Since(started), "error", err)
		return nil, err
	}
	m.log.Info("tool executed",
		"server", rec.Name, "server_id", rec.ID, "tool", toolName, "duration", time.Since(started))
	return res, nil
}

// ClearToolCache drops the cached tool list of serverID, or of every server
// when serverID is empty.
func (m *Manager) ClearToolCache(serverID string) {
	m.cache.clear(serverID)
	m.log.Info("tool cache cleared", "server_id", scopeOf(serverID))
	m.notifyInvalidated(serverID)
}

// ClearSessionsAndClients tears down SSE sessions and discards HTTP clients
// for serverID, or for every server when serverID is empty. Requests still
// waiting on a torn-down session fail with ErrSessionClosed.
func (m *Manager) ClearSessionsAndClients(serverID string) {
	m.sessions.closeSessions(serverID)
	m.clients.drop(serverID)
	m.log.Info("sessions and clients cleared", "server_id", scopeOf(serverID))
}

// OnInvalidate registers fn to run after ClearToolCache. It receives the
// cleared server id, or "" for a global clear.
func (m *Manager) OnInvalidate(fn func(serverID string)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.invalidateHooks = append(m.invalidateHooks, fn)
	m.mu.Unlock()
}

func (m *Manager) notifyInvalidated(serverID string) {
	m.mu.RLock()
	hooks := append([]func(string){}, m.invalidateHooks...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(serverID)
	}
}

// ProbeReport describes a direct connectivity check against one server.
type ProbeReport struct {
	Server   ServerRecord
	Duration time.Duration
	Tools    []Tool
}

// ProbeServer resets every cached resource for serverID and lists its tools
// directly, returning any failure instead of swallowing it. The server does
// not need to be enabled; the fetched tools are cached only when it is.
func (m *Manager) ProbeServer(ctx context.Context, serverID string) (*ProbeReport, error) {
	servers, err := m.registry.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: list servers: %w", err)
	}
	var rec *ServerRecord
	for i := range servers {
		if servers[i].ID == serverID {
			rec = &servers[i]
			break
		}
	}
	if rec == nil {
		return nil, &NotFoundError{ServerName: serverID}
	}

	m.ClearToolCache(rec.ID)
	m.ClearSessionsAndClients(rec.ID)
	gen := m.cache.generation(rec.ID)

	started := time.Now()
	tools, err := m.fetchTools(ctx, *rec)
	if err != nil {
		return nil, err
	}
	if rec.Enabled {
		m.cache.put(rec.ID, gen, tools)
	}
	return &ProbeReport{Server: *rec, Duration: time.Since(started), Tools: tools}, nil
}

// Close tears down every session and client. The manager stays usable;
// later operations reconnect on demand.
func (m *Manager) Close() error {
	m.sessions.closeSessions("")
	m.clients.drop("")
	return nil
}

func (m *Manager) enabledServers(ctx context.Context) ([]ServerRecord, error) {
	servers, err := m.registry.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: list servers: %w", err)
	}
	enabled := servers[:0:0]
	for _, rec := range servers {
		if rec.Enabled {
			enabled = append(enabled, rec)
		}
	}
	return enabled, nil
}

func (m *Manager) findEnabled(ctx context.Context, match func(ServerRecord) bool) (*ServerRecord, error) {
	servers, err := m.enabledServers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range servers {
		if match(servers[i]) {
			return &servers[i], nil
		}
	}
	return nil, nil
}

func scopeOf(serverID string) string {
	if serverID == "" {
		return "*"
	}
	return serverID
}
