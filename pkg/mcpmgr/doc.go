// Package mcpmgr discovers and invokes tools hosted by remote Model Context
// Protocol (MCP) servers from a single Go process. Servers are supplied by a
// Registry and reached over one of two transports: stateless JSON-RPC over
// HTTP POST, or a long-lived Server-Sent Events session whose responses arrive
// on the stream and are matched to requests by id.
//
// # Core entry points
//
//   - Manager is the long-lived router. Construct it with NewManager, then call
//     ListAvailableTools to aggregate tools from every enabled server and
//     ExecuteTool to call one of them by its qualified name.
//   - ServerRecord describes one server: its transport, base URL, credentials,
//     custom headers, and optional path and timeout overrides.
//   - ManagerOptions sets the logger, the base HTTP client, the tool cache TTL,
//     and how long an SSE session may take to accept a request.
//
// Tool names are qualified as "<serverName>__<toolName>" (see QualifiedName
// and SplitQualifiedName) so identically named tools on different servers do
// not collide.
//
// Tool lists are cached per server for five minutes by default. Use
// ClearToolCache to force a re-fetch and ClearSessionsAndClients to drop SSE
// sessions and HTTP clients after credentials or URLs change. ProbeServer
// combines both and reports a fresh tool list for one server.
//
// Failures are reported as typed errors (TransportError, ProtocolError,
// SessionError, UnsupportedTransportError, NameFormatError, NotFoundError,
// RPCError) that wrap their cause for use with errors.Is and errors.As.
package mcpmgr
