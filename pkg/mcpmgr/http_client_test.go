package mcpmgr

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecorateHTTPClientAddsHeadersAndAuthorization(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "manager-tests", req.Header.Get("X-MCP-Source"))
		assert.Equal(t, "Bearer example-token", req.Header.Get("Authorization"))
		assert.Equal(t, "https://tools.example.com/tools/list", req.URL.String())
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	rec := ServerRecord{
		ID:      "s",
		BaseURL: "https://tools.example.com",
		APIKey:  "example-token",
		Headers: map[string]string{"x-mcp-source": "manager-tests"},
	}
	decorated := decorateHTTPClient(&http.Client{Transport: rt}, headersFor(rec), authorizationFor(rec))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://tools.example.com/tools/list", nil)
	require.NoError(t, err)
	req.Header.Set("X-MCP-Source", "caller")
	resp, err := decorated.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "caller", req.Header.Get("X-MCP-Source"), "caller's request must not be mutated")
}

func TestDecorateHTTPClientWithoutCredentials(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("Authorization"))
		return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: io.NopCloser(strings.NewReader("{}")), Request: req}, nil
	})
	rec := ServerRecord{ID: "s", BaseURL: "https://tools.example.com"}
	assert.Nil(t, headersFor(rec))
	assert.Empty(t, authorizationFor(rec))

	c := &serverClient{record: rec, base: rec.baseURL(), http: decorateHTTPClient(&http.Client{Transport: rt}, nil, "")}
	body, err := c.post(context.Background(), methodListTools, "/tools/list", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestServerClientPostReportsStatus(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Header: make(http.Header), Body: io.NopCloser(strings.NewReader("upstream")), Request: req}, nil
	})
	rec := ServerRecord{ID: "gw", BaseURL: "https://tools.example.com/"}
	c := &serverClient{record: rec, base: rec.baseURL(), http: &http.Client{Transport: rt}}

	_, err := c.post(context.Background(), methodCallTool, "/tools/call", []byte("{}"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, "gw", te.ServerID)
	assert.Contains(t, err.Error(), "status 502")
}

func TestClientPoolReusesClients(t *testing.T) {
	t.Parallel()

	pool := newClientPool(nil)
	a := ServerRecord{ID: "a", BaseURL: "https://a.example.com/"}
	first := pool.get(a)
	assert.Same(t, first, pool.get(a))
	assert.Equal(t, "https://a.example.com", first.base)

	// A changed record is picked up only after the client is dropped.
	a.BaseURL = "https://moved.example.com"
	assert.Same(t, first, pool.get(a))
	pool.drop("a")
	assert.Equal(t, "https://moved.example.com", pool.get(a).base)

	pool.get(ServerRecord{ID: "b"})
	assert.Equal(t, 2, pool.size())
	pool.drop("")
	assert.Zero(t, pool.size())
}
