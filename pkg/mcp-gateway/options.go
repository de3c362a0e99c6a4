package mcpgateway

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Defaults applied by NewGateway.
const (
	DefaultAddr        = ":8787"
	DefaultPath        = "/mcp"
	DefaultSyncTimeout = 30 * time.Second
)

// Options configure a Gateway.
type Options struct {
	// Implementation is advertised to connecting agents.
	Implementation *mcp.Implementation
	// Addr is where ListenAndServe listens. Defaults to DefaultAddr.
	Addr string
	// Path mounts the Streamable endpoint. Defaults to DefaultPath.
	Path string
	// Namespace names upstream prompts and resources. Tools keep the
	// Computer's effective names. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// CORSOrigins lists browser origins allowed to call the gateway. Empty
	// disables CORS handling.
	CORSOrigins []string
	// Streamable is passed to mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	Logger     *slog.Logger
	// SyncTimeout bounds each resynchronization with the Computer.
	SyncTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	impl := mcp.Implementation{Name: "a2c-gateway", Title: "A2C Computer Gateway", Version: "1.0.0"}
	if opts.Implementation != nil {
		impl = *opts.Implementation
	}
	opts.Implementation = &impl
	opts.CORSOrigins = append([]string(nil), opts.CORSOrigins...)
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	return opts
}
