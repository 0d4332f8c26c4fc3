package mcpgateway

import (
	"context"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
)

type gatewayFixture struct {
	registry *mcpmgr.StaticRegistry
	manager  *mcpmgr.Manager
	gateway  *Gateway
	session  *mcp.ClientSession
	echo     *httpUpstream
}

func newGatewayFixture(t *testing.T, cacheTTL time.Duration) *gatewayFixture {
	t.Helper()

	echo := newHTTPUpstream(t, "ping", "fail", "structured")
	live := newSSEUpstream(t, "stream")
	reg := mcpmgr.NewStaticRegistry(
		mcpmgr.ServerRecord{ID: "echo-id", Name: "Echo", TransportType: mcpmgr.TransportHTTP, BaseURL: echo.URL, Enabled: true},
		mcpmgr.ServerRecord{ID: "live-id", Name: "Live", TransportType: mcpmgr.TransportSSE, BaseURL: live.URL, Enabled: true},
	)
	manager := mcpmgr.NewManager(reg, &mcpmgr.ManagerOptions{Logger: discardLogger(), CacheTTL: cacheTTL})
	t.Cleanup(func() { _ = manager.Close() })

	gateway, err := NewGateway(manager, &Options{Path: "/mcp", Logger: discardLogger()})
	require.NoError(t, err)

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   server.URL + "/mcp",
		HTTPClient: server.Client(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &gatewayFixture{registry: reg, manager: manager, gateway: gateway, session: session, echo: echo}
}

func listToolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func callText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func TestGatewayAggregatesHTTPAndSSEServers(t *testing.T) {
	t.Parallel()
	fx := newGatewayFixture(t, 0)

	assert.Equal(t, []string{"Echo__fail", "Echo__ping", "Echo__structured", "Live__stream"}, listToolNames(t, fx.session))
	assert.Equal(t, []string{"Echo__fail", "Echo__ping", "Echo__structured", "Live__stream"}, fx.gateway.Tools())

	res, err := fx.session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	for _, tool := range res.Tools {
		require.NotNil(t, tool.Meta)
		switch tool.Name {
		case "Echo__ping":
			assert.Equal(t, "echo-id", tool.Meta[metaKeyServerID])
			assert.Equal(t, "ping", tool.Meta[metaKeyNativeName])
			assert.Equal(t, "[MCP: Echo] upstream ping", tool.Description)
		case "Live__stream":
			assert.Equal(t, "Live", tool.Meta[metaKeyServerName])
		}
	}
}

func TestGatewayRoutesCalls(t *testing.T) {
	t.Parallel()
	fx := newGatewayFixture(t, 0)
	ctx := context.Background()

	res, err := fx.session.CallTool(ctx, &mcp.CallToolParams{Name: "Echo__ping", Arguments: map[string]any{"msg": "hi"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "ping:hi", callText(t, res))

	res, err = fx.session.CallTool(ctx, &mcp.CallToolParams{Name: "Live__stream", Arguments: map[string]any{"msg": "over sse"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "stream:over sse", callText(t, res))

	res, err = fx.session.CallTool(ctx, &mcp.CallToolParams{Name: "Echo__structured", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3}`, callText(t, res))
}

func TestGatewayReportsUpstreamErrorsAsToolErrors(t *testing.T) {
	t.Parallel()
	fx := newGatewayFixture(t, 0)

	res, err := fx.session.CallTool(context.Background(), &mcp.CallToolParams{Name: "Echo__fail", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotEmpty(t, callText(t, res))
}

func TestGatewaySyncFollowsRegistry(t *testing.T) {
	t.Parallel()
	fx := newGatewayFixture(t, 0)
	ctx := context.Background()

	require.True(t, fx.registry.SetEnabled("live-id", false))
	require.NoError(t, fx.gateway.Sync(ctx))
	assert.Equal(t, []string{"Echo__fail", "Echo__ping", "Echo__structured"}, listToolNames(t, fx.session))

	fx.echo.setTools("ping", "pong")
	fx.manager.ClearToolCache("echo-id")
	require.Eventually(t, func() bool {
		names := fx.gateway.Tools()
		return len(names) == 2 && names[0] == "Echo__ping" && names[1] == "Echo__pong"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Echo__ping", "Echo__pong"}, listToolNames(t, fx.session))

	res, err := fx.session.CallTool(ctx, &mcp.CallToolParams{Name: "Live__stream", Arguments: map[string]any{}})
	if err == nil {
		assert.True(t, res.IsError, "disabled server's tool must not be callable")
	}
}

func TestGatewayResyncLoopPicksUpExpiredLists(t *testing.T) {
	t.Parallel()
	fx := newGatewayFixture(t, 30*time.Millisecond)

	fx.echo.setTools("only")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.gateway.resyncLoop(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		names := fx.gateway.Tools()
		return len(names) == 2 && names[0] == "Echo__only" && names[1] == "Live__stream"
	}, 5*time.Second, 10*time.Millisecond)
}
