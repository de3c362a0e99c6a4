// Package mcpgateway serves a Computer's unified namespace as one Streamable
// HTTP MCP server. Agents connect to a single endpoint and see every tool
// under its effective name, every prompt and resource under a server-scoped
// name, and the arranged desktop as a resource. Tool calls go through the
// Computer, so they are confirmed, filtered and recorded like any other.
package mcpgateway
