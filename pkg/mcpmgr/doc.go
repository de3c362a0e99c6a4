// Package mcpmgr connects a Computer to the MCP servers it exposes and keeps
// those connections coherent while configuration changes underneath them.
//
// A Client owns exactly one transport (a child process speaking stdio, or an
// HTTP endpoint speaking Streamable HTTP with an SSE fallback) and walks the
// disconnected -> connecting -> connected -> disconnecting lifecycle. Concurrent
// Connect calls share a single handshake, Disconnect aborts an in-flight
// handshake, and Closed reports when a session has fully torn down.
//
// A Manager holds one Client per configured server name. ApplyConfig diffs a
// new configuration against the stored one and either ignores it, updates its
// metadata in place, or swaps the transport without a window in which the name
// routes nowhere. The aggregated list helpers fan out across every connected
// server and report per-server failures next to the successful items, and an
// optional reconnect loop brings dropped servers back.
package mcpmgr
