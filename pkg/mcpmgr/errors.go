package mcpmgr

import (
	"errors"
	"fmt"
)

// Sentinel errors for SSE session conditions. They are returned wrapped in a
// *SessionError or *TransportError; match them with errors.Is.
var (
	// ErrStreamEnded reports that the SSE stream closed while a request was
	// still waiting for its response.
	ErrStreamEnded = errors.New("SSE stream ended")

	// ErrSessionClosed reports that the session was torn down explicitly.
	ErrSessionClosed = errors.New("session closed")

	// ErrHandshakeTimeout reports that no session endpoint was announced
	// within the server timeout.
	ErrHandshakeTimeout = errors.New("SSE session establishment timeout")

	// ErrResponseTimeout reports that an accepted request got no matching
	// frame on the stream within the server timeout.
	ErrResponseTimeout = errors.New("SSE response timeout")
)

// TransportError indicates the remote server could not be reached, answered
// with a non-2xx status, or did not answer in time.
type TransportError struct {
	ServerID   string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mcpmgr: %s on %s failed with status %d: %v", e.Op, e.ServerID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mcpmgr: %s on %s failed: %v", e.Op, e.ServerID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates a response matched none of the accepted shapes.
type ProtocolError struct {
	ServerID string
	Op       string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcpmgr: unexpected %s response from %s: %v", e.Op, e.ServerID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SessionError indicates an SSE session could not be established or ended
// underneath an outstanding request.
type SessionError struct {
	ServerID string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("mcpmgr: SSE session for %s: %v", e.ServerID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// UnsupportedTransportError indicates a record names a transport other than
// http or sse. Its message, like those of NameFormatError and NotFoundError,
// is matched verbatim by callers that surface it to users, so it carries no
// package prefix.
type UnsupportedTransportError struct {
	ServerID  string
	Transport TransportType
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("Unsupported transport type: %s", e.Transport)
}

// NameFormatError indicates a qualified tool name did not split into exactly
// a server name and a tool name.
type NameFormatError struct {
	Name string
}

func (e *NameFormatError) Error() string {
	return fmt.Sprintf("Invalid MCP tool name format: %s", e.Name)
}

// NotFoundError indicates no enabled server carries the requested name or id.
// The message text is fixed; callers compare it verbatim.
type NotFoundError struct {
	ServerName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("MCP server not found or disabled: %s", e.ServerName)
}

// RPCError is a JSON-RPC error member returned by the remote server.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return "SSE request failed"
	}
	return e.Message
}

// IsSessionFailure reports whether err warrants tearing down and recreating
// an SSE session. Errors reported by the server itself do not.
func IsSessionFailure(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	var protoErr *ProtocolError
	return !errors.As(err, &protoErr)
}
