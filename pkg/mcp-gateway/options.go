package mcpgateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler under a specific HTTP path.
	// Defaults to "/mcp".
	Path string
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// SyncTimeout bounds how long a single tool synchronization may take.
	SyncTimeout time.Duration
	// SyncInterval re-synchronizes the tool list periodically while
	// ListenAndServe runs. Zero disables periodic syncs; cache clears on the
	// manager always trigger one.
	SyncInterval time.Duration
	// CORS configures cross-origin access to the MCP endpoint. Nil allows any
	// origin and exposes the Mcp-Session-Id header.
	CORS *cors.Options

	// TokenVerifier enables bearer-token authentication on the MCP endpoint.
	TokenVerifier auth.TokenVerifier
	// TokenOptions are passed to auth.RequireBearerToken. Requires TokenVerifier.
	TokenOptions *auth.RequireBearerTokenOptions
	// AuthorizationServer, when set together with TokenOptions.ResourceMetadataURL,
	// is advertised from /.well-known/oauth-protected-resource.
	AuthorizationServer string
	// ResourceURL is the canonical URL of the MCP endpoint advertised in the
	// protected resource metadata.
	ResourceURL string
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpgateway",
			Title:   "MCP Tool Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.CORS == nil {
		opts.CORS = &cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
		}
	}
	return opts
}
