package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpgateway "github.com/vikashloomba/mcp-tool-client-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-client-go/pkg/registry"
)

func main() {
	registryPath := flag.String("registry", "servers.yaml", "path to the server registry file")
	addr := flag.String("addr", ":8787", "listen address")
	syncInterval := flag.Duration("sync-interval", time.Minute, "how often to refresh the tool list (0 disables)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.Load(*registryPath)
	if err != nil {
		log.Fatalf("failed to load registry: %v", err)
	}
	manager := mcpmgr.NewManager(reg, &mcpmgr.ManagerOptions{Logger: logger})
	defer manager.Close()

	gatewayOpts := &mcpgateway.Options{
		Addr:         *addr,
		Path:         "/mcp",
		Logger:       logger,
		SyncInterval: *syncInterval,
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: true,
		},
	}

	authorizationURL := os.Getenv("AUTHORIZATION_SERVER_URL")
	resourceMetadataURL := os.Getenv("OAUTH_RESOURCE_METADATA_URL")
	if authorizationURL != "" && resourceMetadataURL != "" {
		gatewayOpts.TokenVerifier = func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			// Validate token with your upstream authorization server.
			if token == "" {
				return nil, auth.ErrInvalidToken
			}
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
		}
		gatewayOpts.TokenOptions = &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: resourceMetadataURL,
		}
		gatewayOpts.AuthorizationServer = authorizationURL
	}

	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}
	gateway.ServeMux().HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	logger.Info("gateway ready", "registry", reg.Path(), "tools", len(gateway.Tools()))
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
