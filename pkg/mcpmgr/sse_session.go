package mcpmgr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateEstablished
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateEstablished:
		return "established"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

const (
	ssePayloadPrefix = "data:"
	sseEventPrefix   = "event:"
	sseEndpointHint  = "/message"
	sseDoneMarker    = "[DONE]"
)

type callOutcome struct {
	frame *rpcFrame
	err   error
}

// pendingCall is delivered to exactly once, by whichever party removes it
// from the pending map.
type pendingCall struct {
	ch chan callOutcome
}

// sseSession is one live push stream to a server. Requests are POSTed to the
// endpoint announced on the stream and their responses come back as data
// frames, matched by numeric id.
type sseSession struct {
	serverID      string
	log           *slog.Logger
	client        *serverClient
	acceptTimeout time.Duration
	onClose       func(*sseSession)

	mu       sync.Mutex
	state    sessionState
	endpoint string
	pending  map[int64]*pendingCall
	cause    error

	established chan struct{}
	done        chan struct{}
	cancel      context.CancelFunc
}

// openSession issues GET /sse and blocks until the server announces the
// session endpoint, the handshake times out, the stream fails, or ctx ends.
// The stream itself is detached from ctx and lives until closed.
func openSession(ctx context.Context, client *serverClient, log *slog.Logger, acceptTimeout time.Duration, onClose func(*sseSession)) (*sseSession, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, client.base+sseStreamPath, nil)
	if err != nil {
		cancel()
		return nil, &SessionError{ServerID: client.record.ID, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	s := &sseSession{
		serverID:      client.record.ID,
		log:           log.With("server", client.record.Name, "server_id", client.record.ID),
		client:        client,
		acceptTimeout: acceptTimeout,
		onClose:       onClose,
		state:         stateConnecting,
		pending:       make(map[int64]*pendingCall),
		established:   make(chan struct{}),
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	go s.run(req)

	timer := time.NewTimer(client.record.Timeout())
	defer timer.Stop()
	select {
	case <-s.established:
		s.log.Info("SSE session established", "endpoint", s.sessionEndpoint())
		return s, nil
	case <-s.done:
		cause := s.closeCause()
		if cause == nil {
			cause = ErrStreamEnded
		}
		return nil, &SessionError{ServerID: s.serverID, Err: cause}
	case <-timer.C:
		s.shutdown(ErrHandshakeTimeout)
		return nil, &SessionError{ServerID: s.serverID, Err: ErrHandshakeTimeout}
	case <-ctx.Done():
		s.shutdown(ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *sseSession) run(req *http.Request) {
	resp, err := s.client.http.Do(req)
	if err != nil {
		s.shutdown(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.shutdown(fmt.Errorf("SSE connection failed with status %d", resp.StatusCode))
		return
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.handleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.shutdown(err)
			return
		}
	}
}

func (s *sseSession) handleLine(line string) {
	switch {
	case line == "":
	case strings.HasPrefix(line, ":"):
		s.log.Debug("SSE comment", "line", line)
	case strings.HasPrefix(line, sseEventPrefix):
		s.log.Debug("SSE event", "event", strings.TrimSpace(strings.TrimPrefix(line, sseEventPrefix)))
	case strings.HasPrefix(line, ssePayloadPrefix):
		s.handlePayload(strings.TrimSpace(strings.TrimPrefix(line, ssePayloadPrefix)))
	}
}

func (s *sseSession) handlePayload(payload string) {
	if payload == "" || payload == sseDoneMarker {
		return
	}
	if strings.HasPrefix(payload, sseEndpointHint) {
		s.establish(payload)
		return
	}
	s.dispatch(payload)
}

// establish records the session endpoint. Only the first announcement while
// connecting counts.
func (s *sseSession) establish(endpoint string) {
	s.mu.Lock()
	if s.state != stateConnecting {
		s.mu.Unlock()
		s.log.Debug("ignoring repeated endpoint announcement", "endpoint", endpoint)
		return
	}
	s.endpoint = endpoint
	s.state = stateEstablished
	close(s.established)
	s.state = stateActive
	s.mu.Unlock()
}

// dispatch hands a response frame to the pending request with the same id.
// Frames that are not JSON, carry no numeric id, or match nothing are dropped.
func (s *sseSession) dispatch(payload string) {
	frame, err := decodeFrame([]byte(payload))
	if err != nil {
		s.log.Debug("ignoring non-JSON SSE frame", "payload", truncate(payload, 200))
		return
	}
	id, ok := frame.numericID()
	if !ok {
		return
	}
	s.mu.Lock()
	call, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug("ignoring SSE frame for unknown request", "request_id", id)
		return
	}
	if rpcErr := frame.err(); rpcErr != nil {
		call.ch <- callOutcome{err: rpcErr}
		return
	}
	call.ch <- callOutcome{frame: frame}
}

// call sends one JSON-RPC request and waits for its frame on the stream.
func (s *sseSession) call(ctx context.Context, id int64, method string, params any) (*rpcFrame, error) {
	body, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{ch: make(chan callOutcome, 1)}
	s.mu.Lock()
	if s.state != stateActive {
		state := s.state
		s.mu.Unlock()
		return nil, &SessionError{ServerID: s.serverID, Err: fmt.Errorf("session is %s", state)}
	}
	endpoint := s.endpoint
	s.pending[id] = pc
	s.mu.Unlock()

	postCtx, cancel := context.WithTimeout(ctx, s.acceptTimeout)
	_, err = s.client.post(postCtx, method, endpoint, body)
	cancel()
	if err != nil {
		if s.forget(id) {
			return nil, err
		}
		return pc.wait()
	}

	timer := time.NewTimer(s.client.record.Timeout())
	defer timer.Stop()
	select {
	case out := <-pc.ch:
		return out.frame, out.err
	case <-timer.C:
		if s.forget(id) {
			s.log.Error("SSE response timeout", "request_id", id, "method", method)
			return nil, &TransportError{ServerID: s.serverID, Op: method, Err: ErrResponseTimeout}
		}
	case <-ctx.Done():
		if s.forget(id) {
			return nil, ctx.Err()
		}
	}
	return pc.wait()
}

func (p *pendingCall) wait() (*rpcFrame, error) {
	out := <-p.ch
	return out.frame, out.err
}

// forget removes id from the pending map and reports whether this caller
// was the one that removed it.
func (s *sseSession) forget(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *sseSession) close() {
	s.shutdown(ErrSessionClosed)
}

// shutdown moves the session to closed, rejects everything still pending and
// notifies the owner. Only the first call has any effect.
func (s *sseSession) shutdown(cause error) {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.cause = cause
	pending := s.pending
	s.pending = make(map[int64]*pendingCall)
	s.mu.Unlock()

	s.cancel()
	close(s.done)

	rejection := s.rejection(cause)
	for _, call := range pending {
		call.ch <- callOutcome{err: rejection}
	}
	if len(pending) > 0 || (cause != nil && !errors.Is(cause, ErrSessionClosed)) {
		s.log.Warn("SSE session closed", "pending", len(pending), "error", cause)
	} else {
		s.log.Info("SSE session closed")
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *sseSession) rejection(cause error) error {
	switch {
	case errors.Is(cause, ErrSessionClosed):
		return &SessionError{ServerID: s.serverID, Err: ErrSessionClosed}
	case cause == nil:
		return &SessionError{ServerID: s.serverID, Err: ErrStreamEnded}
	default:
		return &SessionError{ServerID: s.serverID, Err: fmt.Errorf("%w: %w", ErrStreamEnded, cause)}
	}
}

func (s *sseSession) closeCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *sseSession) sessionEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *sseSession) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sseSession) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
