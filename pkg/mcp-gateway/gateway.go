package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// Gateway exposes a Streamable MCP server that fronts every tool discovered by
// an mcpmgr.Manager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	syncMu       sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and registers the initial tool snapshot. Cache
// clears on the manager schedule a re-sync.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		manager: mgr,
		opts:    options,
		tools:   newToolIndex(),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()
	g.httpHandler = cors.New(*options.CORS).Handler(g.mux)

	mgr.OnInvalidate(func(serverID string) {
		go g.syncAndLog("cache cleared", serverID)
	})

	if err := g.Sync(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can add routes such as
// health checks. Routes registered after serving starts are honored.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Tools lists the gateway tool names currently registered.
func (g *Gateway) Tools() []string {
	return g.tools.Names()
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops. When SyncInterval is set the tool list is refreshed on that
// cadence while serving.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	if g.opts.SyncInterval > 0 {
		go g.resyncLoop(loopCtx, g.opts.SyncInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		g.opts.Logger.Info("gateway listening", "addr", srv.Addr, "path", g.opts.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Sync lists the manager's tools and reconciles the gateway server with them:
// tools that disappeared are removed and new or changed tools are registered.
func (g *Gateway) Sync(ctx context.Context) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	tools, err := g.manager.ListAvailableTools(ctx)
	if err != nil {
		return fmt.Errorf("mcpgateway: list tools: %w", err)
	}
	removed, added := g.tools.Update(tools)
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target.Name))
	}

	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Info("gateway tools synced", "added", len(added), "removed", len(removed), "total", len(tools))
	}
	return nil
}

func (g *Gateway) resyncLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.syncAndLog("periodic", "")
		}
	}
}

func (g *Gateway) syncAndLog(reason, serverID string) {
	if err := g.Sync(context.Background()); err != nil {
		g.logError("sync tools", err, "reason", reason, "server_id", serverID)
	}
}

// makeToolHandler resolves name against the index on every call so a tool
// removed by a concurrent sync fails cleanly instead of reaching a stale server.
func (g *Gateway) makeToolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, ok := g.tools.ToolTarget(name)
		if !ok {
			return errorResult(fmt.Errorf("tool %s is no longer available", name)), nil
		}
		var args map[string]any
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Errorf("invalid arguments for %s: %w", target.Name, err)), nil
			}
		}
		res, err := g.manager.ExecuteTool(ctx, target.Name, args)
		if err != nil {
			g.logError("forward tool call", err, "tool", target.Name, "server_id", target.ServerID)
			return errorResult(err), nil
		}
		return toolResult(res)
	}
}

// toolResult renders a manager result as MCP text content. Text results pass
// through; structured results are JSON-encoded.
func toolResult(res *mcpmgr.ToolResult) (*mcp.CallToolResult, error) {
	var text string
	switch v := res.Value().(type) {
	case nil:
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("mcpgateway: encode tool result: %w", err)
		}
		text = string(data)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var stream http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		stream = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(stream)
	}
	mux := http.NewServeMux()
	mux.Handle(path, stream)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", stream)
	}
	if g.opts.TokenOptions != nil && g.opts.TokenOptions.ResourceMetadataURL != "" && g.opts.AuthorizationServer != "" {
		mux.Handle(protectedResourcePath, g.protectedResourceHandler())
	}
	return mux
}

type protectedResourceMetadata struct {
	Resource               string   `json:"resource,omitempty"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (g *Gateway) protectedResourceHandler() http.Handler {
	meta := protectedResourceMetadata{
		Resource:               g.opts.ResourceURL,
		AuthorizationServers:   []string{g.opts.AuthorizationServer},
		ScopesSupported:        g.opts.TokenOptions.Scopes,
		BearerMethodsSupported: []string{"header"},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	})
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
