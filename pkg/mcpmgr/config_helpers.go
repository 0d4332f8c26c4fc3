package mcpmgr

import "strings"

// Lightweight helpers for branching on a ServerRecord's transport without a
// string comparison at every call site.

// TransportOf returns the normalized transport for a record. Unknown values
// are returned as-is so callers can report them.
func TransportOf(rec ServerRecord) TransportType {
	return TransportType(normalizeTransport(string(rec.TransportType)))
}

// IsHTTP reports whether rec uses the stateless HTTP transport.
func IsHTTP(rec ServerRecord) bool {
	return TransportOf(rec) == TransportHTTP
}

// IsSSE reports whether rec uses the session-oriented SSE transport.
func IsSSE(rec ServerRecord) bool {
	return TransportOf(rec) == TransportSSE
}

// Supported reports whether the manager can dispatch to rec's transport.
func Supported(rec ServerRecord) bool {
	return IsHTTP(rec) || IsSSE(rec)
}

func normalizeTransport(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
