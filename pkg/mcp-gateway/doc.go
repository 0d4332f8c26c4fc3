// Package mcpgateway re-exposes every tool discovered by an mcpmgr.Manager as
// a single Streamable MCP server. Downstream MCP clients connect to one
// endpoint, see the aggregated "<server>__<tool>" names, and have their calls
// routed through Manager.ExecuteTool to whichever HTTP or SSE server owns the
// tool.
package mcpgateway
