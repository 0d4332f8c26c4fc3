package mcpmgr

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TransportType names the wire mechanism used to reach a server.
type TransportType string

const (
	TransportHTTP TransportType = "http"
	TransportSSE  TransportType = "sse"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultCacheTTL     = 5 * time.Minute
	defaultAcceptWindow = 10 * time.Second

	defaultDiscoveryFanout = 8

	defaultHTTPToolsPath   = "/tools/list"
	defaultHTTPExecutePath = "/tools/call"
	defaultSSEToolsPath    = "/tools"
	defaultSSEExecutePath  = "/tools/{name}"

	sseStreamPath = "/sse"
	namePattern   = "{name}"
)

// ServerSettings carries the optional per-server knobs stored alongside a
// server record.
type ServerSettings struct {
	ToolsPath   string `json:"toolsPath,omitempty" yaml:"tools_path,omitempty"`
	ExecutePath string `json:"executePath,omitempty" yaml:"execute_path,omitempty"`
	TimeoutMs   int    `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
}

// ServerRecord describes one remote MCP server as supplied by the registry.
// Records are treated as read-only values by the manager.
type ServerRecord struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	TransportType TransportType     `json:"transportType" yaml:"transport"`
	BaseURL       string            `json:"baseUrl" yaml:"base_url"`
	APIKey        string            `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Config        ServerSettings    `json:"config" yaml:"config"`
	Enabled       bool              `json:"enabled" yaml:"enabled"`
}

// Timeout returns the configured per-request timeout, falling back to 30s.
func (r ServerRecord) Timeout() time.Duration {
	if r.Config.TimeoutMs > 0 {
		return time.Duration(r.Config.TimeoutMs) * time.Millisecond
	}
	return defaultTimeout
}

func (r ServerRecord) toolsPath() string {
	if r.Config.ToolsPath != "" {
		return r.Config.ToolsPath
	}
	if IsSSE(r) {
		return defaultSSEToolsPath
	}
	return defaultHTTPToolsPath
}

// executePath resolves the call path for toolName, substituting every
// "{name}" placeholder.
func (r ServerRecord) executePath(toolName string) string {
	path := r.Config.ExecutePath
	if path == "" {
		path = defaultHTTPExecutePath
		if IsSSE(r) {
			path = defaultSSEExecutePath
		}
	}
	return strings.ReplaceAll(path, namePattern, toolName)
}

func (r ServerRecord) baseURL() string {
	return strings.TrimRight(r.BaseURL, "/")
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// HTTPClient is the base client cloned for every server. Its Transport is
	// wrapped to inject per-server headers; its Timeout must be zero because
	// SSE streams are long-lived. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// CacheTTL bounds how long a discovered tool list is served from memory.
	// Defaults to five minutes.
	CacheTTL time.Duration
	// AcceptTimeout bounds the POST that hands a request to an SSE session;
	// the JSON-RPC response itself is bounded by the server timeout.
	// Defaults to ten seconds.
	AcceptTimeout time.Duration
	// DiscoveryConcurrency caps how many servers ListAvailableTools fetches
	// from at once. Defaults to eight.
	DiscoveryConcurrency int
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = defaultAcceptWindow
	}
	if opts.DiscoveryConcurrency <= 0 {
		opts.DiscoveryConcurrency = defaultDiscoveryFanout
	}
	return opts
}
