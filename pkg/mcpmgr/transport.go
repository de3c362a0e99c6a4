package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// dialFunc turns a config into the transports a Client should try, in order.
// The set of variants is closed: stdio yields a single command transport, HTTP
// yields Streamable HTTP and SSE in preference order.
type dialFunc func(cfg ServerConfig) ([]mcp.Transport, error)

func defaultDialer(httpClient *http.Client) dialFunc {
	return func(cfg ServerConfig) ([]mcp.Transport, error) {
		switch c := cfg.(type) {
		case *StdioServerConfig:
			t, err := buildStdioTransport(c)
			if err != nil {
				return nil, err
			}
			return []mcp.Transport{t}, nil
		case *HTTPServerConfig:
			return buildHTTPTransports(httpClient, c)
		default:
			return nil, fmt.Errorf("mcpmgr: unsupported config %T", cfg)
		}
	}
}

func buildStdioTransport(cfg *StdioServerConfig) (*mcp.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
			env = append(env, fmt.Sprintf("%s=%s", k, cfg.Env[k]))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildHTTPTransports(base *http.Client, cfg *HTTPServerConfig) ([]mcp.Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcpmgr: url missing for %q", cfg.Name)
	}
	client := decorateHTTPClient(base, cfg.Headers)
	streamable := &mcp.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: client,
		MaxRetries: cfg.MaxRetries,
	}
	sse := &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: client}
	if shouldPreferSSE(cfg) {
		return []mcp.Transport{sse, streamable}, nil
	}
	return []mcp.Transport{streamable, sse}, nil
}

func shouldPreferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.URL), "/sse")
}

func decorateHTTPClient(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneStringMap(headers),
	}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers map[string]string
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// probeTransport records whether the underlying transport opened, so a
// failed Connect can be classified as a transport or a handshake failure.
type probeTransport struct {
	delegate mcp.Transport
	opened   atomic.Bool
}

func (t *probeTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.opened.Store(true)
	return conn, nil
}

type loggingTransport struct {
	server   string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{server: t.server, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	server   string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, Server: c.server})
}

// slogRPCLogger writes JSON-RPC traffic at debug level.
func slogRPCLogger(log *slog.Logger) RPCLogger {
	return func(event RPCLogEvent) {
		log.Debug("mcp rpc",
			slog.String("server", event.Server),
			slog.String("direction", string(event.Direction)),
			slog.String("message", string(event.Message)))
	}
}
