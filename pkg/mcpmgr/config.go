package mcpmgr

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Server    string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// ToolMeta carries per-tool behavior consulted by the Computer before it
// forwards a call.
type ToolMeta struct {
	// AutoApply, when explicitly false, requires confirmation before the tool
	// runs. Nil means "apply automatically".
	AutoApply *bool `json:"auto_apply,omitempty"`
	// Alias replaces the tool name exposed to callers.
	Alias string `json:"alias,omitempty"`
	// Tags are opaque labels surfaced alongside the tool.
	Tags []string `json:"tags,omitempty"`
}

// BaseServerConfig captures settings shared by all transport types. None of
// these fields affect the transport, so changing them never forces a
// reconnect.
type BaseServerConfig struct {
	Name            string
	Disabled        bool
	ForbiddenTools  []string
	ToolMeta        map[string]ToolMeta
	DefaultToolMeta *ToolMeta
	Timeout         time.Duration
	Version         string
	LogJSONRPC      bool
}

// StdioServerConfig describes an MCP server launched as a child process
// speaking JSON-RPC over its stdin and stdout.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

func (c *StdioServerConfig) clone() ServerConfig {
	out := *c
	out.BaseServerConfig = c.BaseServerConfig.clone()
	out.Args = cloneStrings(c.Args)
	out.Env = cloneStringMap(c.Env)
	return &out
}

// HTTPServerConfig describes an MCP server reachable over HTTP. The
// Streamable HTTP transport is tried first and SSE is used as a fallback,
// unless PreferSSE (or an endpoint ending in "/sse") says otherwise.
type HTTPServerConfig struct {
	BaseServerConfig
	URL        string
	Headers    map[string]string
	PreferSSE  *bool
	MaxRetries int
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

func (c *HTTPServerConfig) clone() ServerConfig {
	out := *c
	out.BaseServerConfig = c.BaseServerConfig.clone()
	out.Headers = cloneStringMap(c.Headers)
	if c.PreferSSE != nil {
		v := *c.PreferSSE
		out.PreferSSE = &v
	}
	return &out
}

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
	clone() ServerConfig
}

func (b BaseServerConfig) clone() BaseServerConfig {
	out := b
	out.ForbiddenTools = cloneStrings(b.ForbiddenTools)
	if b.ToolMeta != nil {
		out.ToolMeta = make(map[string]ToolMeta, len(b.ToolMeta))
		for name, meta := range b.ToolMeta {
			out.ToolMeta[name] = meta.clone()
		}
	}
	if b.DefaultToolMeta != nil {
		meta := b.DefaultToolMeta.clone()
		out.DefaultToolMeta = &meta
	}
	return out
}

func (t ToolMeta) clone() ToolMeta {
	out := t
	if t.AutoApply != nil {
		v := *t.AutoApply
		out.AutoApply = &v
	}
	out.Tags = cloneStrings(t.Tags)
	return out
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server name is used.
	DefaultClientName string
	// DefaultClientVersion controls the semantic version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout. It bounds handshakes and individual requests.
	DefaultTimeout time.Duration
	// DefaultClientOptions are handed to every MCP client; the manager wraps
	// the list-changed handlers to fan notifications out to subscribers.
	DefaultClientOptions mcp.ClientOptions
	// DefaultLogJSONRPC toggles logging of JSON-RPC traffic for all servers
	// unless a server opts in on its own.
	DefaultLogJSONRPC bool
	// RPCLogger receives JSON-RPC traffic when logging is enabled. When nil,
	// traffic is written to Logger at debug level.
	RPCLogger RPCLogger
	// HTTPClient is the base client for HTTP transports.
	HTTPClient *http.Client
	// AutoReconnect schedules reconnect attempts after a failed start or an
	// unexpected drop.
	AutoReconnect bool
	// Reconnect controls the retry cadence used when AutoReconnect is on.
	Reconnect ReconnectPolicy
	// Concurrency bounds the fan-out of aggregated list calls. Zero means
	// one goroutine per server.
	Concurrency int
	// FailFastOnRestart makes calls to a server whose transport is being
	// swapped fail immediately with ErrServerRestarting instead of waiting
	// for the new connection.
	FailFastOnRestart bool
	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var options ManagerOptions
	if o != nil {
		options = *o
	}
	if options.DefaultClientVersion == "" {
		options.DefaultClientVersion = "1.0.0"
	}
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = 30 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	options.Reconnect = options.Reconnect.normalized()
	return options
}
