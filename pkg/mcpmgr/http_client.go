package mcpmgr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// maxResponseBody caps how much of a non-streaming response is read.
const maxResponseBody = 8 << 20

// serverClient is the persistent HTTP client for one server. It captures the
// record as it was when the client was built; ClearSessionsAndClients drops
// it so credential changes take effect.
type serverClient struct {
	record ServerRecord
	base   string
	http   *http.Client
}

// post sends body as JSON to base+path and returns the response body. Network
// failures and non-2xx answers are reported as *TransportError.
func (c *serverClient) post(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{ServerID: c.record.ID, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{ServerID: c.record.ID, Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{ServerID: c.record.ID, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, &TransportError{
			ServerID:   c.record.ID,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}
	return data, nil
}

// clientPool hands out one serverClient per server id.
type clientPool struct {
	mu      sync.Mutex
	base    *http.Client
	clients map[string]*serverClient
}

func newClientPool(base *http.Client) *clientPool {
	return &clientPool{base: base, clients: make(map[string]*serverClient)}
}

func (p *clientPool) get(rec ServerRecord) *serverClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[rec.ID]; ok {
		return c
	}
	c := &serverClient{
		record: rec,
		base:   rec.baseURL(),
		http:   decorateHTTPClient(p.base, headersFor(rec), authorizationFor(rec)),
	}
	p.clients[rec.ID] = c
	return c
}

// drop discards the client for serverID, or every client when serverID is
// empty.
func (p *clientPool) drop(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if serverID == "" {
		p.clients = make(map[string]*serverClient)
		return
	}
	delete(p.clients, serverID)
}

func (p *clientPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func headersFor(rec ServerRecord) http.Header {
	if len(rec.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(rec.Headers))
	for k, v := range rec.Headers {
		h.Set(k, v)
	}
	return h
}

func authorizationFor(rec ServerRecord) string {
	if rec.APIKey == "" {
		return ""
	}
	return "Bearer " + rec.APIKey
}

func decorateHTTPClient(base *http.Client, headers http.Header, authorization string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:          defaultRoundTripper(base.Transport),
		headers:       headers,
		authorization: authorization,
	}
	return &clone
}

type headerDecorator struct {
	next          http.RoundTripper
	headers       http.Header
	authorization string
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authorization != "" {
		req.Header.Set("Authorization", d.authorization)
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
