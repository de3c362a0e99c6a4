package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a transport client.
type ConnectionStatus string

const (
	StatusDisconnected  ConnectionStatus = "disconnected"
	StatusConnecting    ConnectionStatus = "connecting"
	StatusConnected     ConnectionStatus = "connected"
	StatusDisconnecting ConnectionStatus = "disconnecting"
)

// ClientOptions configures a standalone Client. A Manager fills these in from
// its own ManagerOptions.
type ClientOptions struct {
	// Implementation is advertised during initialize. Defaults to the server
	// name and version "1.0.0".
	Implementation *mcp.Implementation
	// MCPOptions are passed to mcp.NewClient.
	MCPOptions mcp.ClientOptions
	// Middleware is added as receiving middleware on every MCP client.
	Middleware []mcp.Middleware
	// Timeout bounds the handshake and each request when the config does
	// not set one. Defaults to 30 seconds.
	Timeout time.Duration
	// RPCLogger, when set, observes every JSON-RPC message.
	RPCLogger RPCLogger
	// HTTPClient is the base client for HTTP transports.
	HTTPClient *http.Client
	// OnDrop is called after a failed connect and after a session ends
	// without Disconnect. It is not called for aborted connects.
	OnDrop func(*Client, error)
	// OnStatus is called after the client settles in StatusConnected or
	// StatusDisconnected, without any client lock held.
	OnStatus func(*Client, ConnectionStatus)
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	dial dialFunc
}

// Client owns the single transport of one MCP server.
//
// Status moves disconnected -> connecting -> connected -> disconnecting ->
// disconnected. Session is non-nil exactly while the status is connected.
type Client struct {
	name     string
	opts     ClientOptions
	log      *slog.Logger
	dial     dialFunc
	defaultT time.Duration

	mu       sync.Mutex
	config   ServerConfig
	status   ConnectionStatus
	session  *mcp.ClientSession
	attempt  *connectAttempt
	closed   *signal
	connects int
	retired  bool
}

var errClientRetired = errors.New("mcpmgr: client retired")

type connectAttempt struct {
	done    *signal
	cancel  context.CancelFunc
	aborted bool
	err     error
}

// NewClient validates cfg and returns a disconnected Client.
func NewClient(cfg ServerConfig, opts *ClientOptions) (*Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	var o ClientOptions
	if opts != nil {
		o = *opts
	}
	cfg = cfg.clone()
	name := cfg.base().Name
	if o.Implementation == nil {
		o.Implementation = &mcp.Implementation{Name: name, Version: "1.0.0"}
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	dial := o.dial
	if dial == nil {
		dial = defaultDialer(o.HTTPClient)
	}
	return &Client{
		name:     name,
		opts:     o,
		log:      o.Logger.With(slog.String("server", name)),
		dial:     dial,
		defaultT: o.Timeout,
		config:   cfg,
		status:   StatusDisconnected,
		closed:   firedSignal(),
	}, nil
}

// Name returns the server name this client belongs to.
func (c *Client) Name() string { return c.name }

// Config returns a copy of the current configuration.
func (c *Client) Config() ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.clone()
}

// Status returns the current lifecycle state.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the live session, or nil unless connected.
func (c *Client) Session() *mcp.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return nil
	}
	return c.session
}

// Connects returns how many handshakes have succeeded on this client.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Ready returns a channel closed once the current connect attempt settles.
// It is already closed when no attempt is in flight.
func (c *Client) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != nil {
		return c.attempt.done.done()
	}
	return firedSignal().done()
}

// Closed returns a channel closed once the most recent session, or connect
// attempt, has fully torn down. It is already closed for a client that never
// connected.
func (c *Client) Closed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed.done()
}

// WaitReady blocks until the client is connected. It fails immediately when
// no connect is in flight and the client is not connected.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	status, attempt := c.status, c.attempt
	c.mu.Unlock()
	switch status {
	case StatusConnected:
		return nil
	case StatusConnecting:
		if err := attempt.done.wait(ctx); err != nil {
			return err
		}
		return attempt.err
	default:
		return fmt.Errorf("%w: %q is %s", ErrServerNotConnected, c.name, status)
	}
}

func (c *Client) timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeoutLocked()
}

func (c *Client) timeoutLocked() time.Duration {
	if t := c.config.base().Timeout; t > 0 {
		return t
	}
	return c.defaultT
}

// retire marks a client its manager no longer routes to. A retired client
// never dials again.
func (c *Client) retire() {
	c.mu.Lock()
	c.retired = true
	c.mu.Unlock()
}

// updateConfig swaps metadata without touching the transport.
func (c *Client) updateConfig(cfg ServerConfig) {
	c.mu.Lock()
	c.config = cfg.clone()
	c.mu.Unlock()
}

// Connect opens the transport and performs the MCP handshake. It returns
// immediately when already connected, joins an in-flight attempt instead of
// starting a second one, and waits for a disconnect in progress to finish
// before dialing again.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Client) connect(ctx context.Context, notify bool) error {
	for {
		c.mu.Lock()
		switch c.status {
		case StatusConnected:
			c.mu.Unlock()
			return nil
		case StatusConnecting:
			attempt := c.attempt
			c.mu.Unlock()
			if err := attempt.done.wait(ctx); err != nil {
				return err
			}
			return attempt.err
		case StatusDisconnecting:
			closed := c.closed
			c.mu.Unlock()
			if err := closed.wait(ctx); err != nil {
				return err
			}
			continue
		}

		if c.retired {
			c.mu.Unlock()
			return fmt.Errorf("%w: %w: %q", ErrServerNotConnected, errClientRetired, c.name)
		}
		cfg := c.config
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeoutLocked())
		attempt := &connectAttempt{done: newSignal(), cancel: cancel}
		closed := newSignal()
		c.attempt = attempt
		c.closed = closed
		c.status = StatusConnecting
		c.mu.Unlock()

		c.log.Debug("connecting mcp server", slog.String("transport", string(TransportOf(cfg))))
		session, err := c.establish(attemptCtx, cfg)
		cancel()

		c.mu.Lock()
		c.attempt = nil
		aborted := attempt.aborted
		if err == nil && aborted {
			c.status = StatusDisconnecting
			c.mu.Unlock()
			_ = session.Close()
			c.mu.Lock()
		}
		if err != nil || aborted {
			if aborted {
				err = ErrConnectAborted
			}
			c.status = StatusDisconnected
			attempt.err = err
			c.mu.Unlock()
			closed.fire()
			attempt.done.fire()
			c.settled(StatusDisconnected)
			if !aborted {
				c.log.Warn("mcp server connect failed", slog.Any("error", err))
				if notify && c.opts.OnDrop != nil {
					c.opts.OnDrop(c, err)
				}
			}
			return err
		}
		c.session = session
		c.status = StatusConnected
		c.connects++
		c.mu.Unlock()
		attempt.done.fire()
		go c.monitor(session, closed)
		c.log.Info("mcp server connected", slog.String("session", session.ID()))
		c.settled(StatusConnected)
		return nil
	}
}

func (c *Client) establish(ctx context.Context, cfg ServerConfig) (*mcp.ClientSession, error) {
	transports, err := c.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransportFailure, c.name, err)
	}
	var errs []error
	for _, t := range transports {
		session, err := c.handshake(ctx, t)
		if err == nil {
			return session, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Client) handshake(ctx context.Context, t mcp.Transport) (*mcp.ClientSession, error) {
	probe := &probeTransport{delegate: t}
	var wrapped mcp.Transport = probe
	if c.opts.RPCLogger != nil {
		wrapped = &loggingTransport{server: c.name, delegate: probe, logger: c.opts.RPCLogger}
	}
	options := c.opts.MCPOptions
	client := mcp.NewClient(c.opts.Implementation, &options)
	for _, mw := range c.opts.Middleware {
		client.AddReceivingMiddleware(mw)
	}
	session, err := client.Connect(ctx, wrapped, nil)
	if err != nil {
		if probe.opened.Load() {
			return nil, fmt.Errorf("%w: %s: %w", ErrHandshakeFailure, c.name, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTransportFailure, c.name, err)
	}
	return session, nil
}

// monitor waits for the session to end. An end that Disconnect did not ask
// for moves the client to disconnected and reports the drop.
func (c *Client) monitor(session *mcp.ClientSession, closed *signal) {
	waitErr := session.Wait()
	c.mu.Lock()
	unexpected := c.session == session
	if unexpected {
		c.session = nil
	}
	c.status = StatusDisconnected
	c.mu.Unlock()
	closed.fire()
	c.settled(StatusDisconnected)
	if !unexpected {
		c.log.Info("mcp server disconnected")
		return
	}
	err := fmt.Errorf("%w: %s: session ended", ErrTransportFailure, c.name)
	if waitErr != nil {
		err = fmt.Errorf("%w: %s: %w", ErrTransportFailure, c.name, waitErr)
	}
	if c.opts.OnDrop != nil {
		c.opts.OnDrop(c, err)
	}
}

func (c *Client) settled(status ConnectionStatus) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(c, status)
	}
}

// Disconnect tears the session down, or aborts an in-flight connect, and
// returns once the teardown is complete. Calling it on a disconnected client
// is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusDisconnected:
		c.mu.Unlock()
		return nil
	case StatusConnecting:
		c.attempt.aborted = true
		c.attempt.cancel()
		closed := c.closed
		c.mu.Unlock()
		return closed.wait(ctx)
	case StatusDisconnecting:
		closed := c.closed
		c.mu.Unlock()
		return closed.wait(ctx)
	}
	session := c.session
	c.session = nil
	c.status = StatusDisconnecting
	closed := c.closed
	c.mu.Unlock()

	c.log.Debug("disconnecting mcp server")
	errc := make(chan error, 1)
	go func() { errc <- session.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if werr := closed.wait(ctx); werr != nil {
			return werr
		}
		// The session is gone once closed fires. Errors from the close
		// itself, such as a Streamable session DELETE racing the stream
		// shutdown, do not change the outcome.
		if err != nil {
			c.log.Debug("mcp session close reported an error", slog.Any("error", err))
		}
		return nil
	}
}

func (c *Client) live() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.session == nil {
		return nil, fmt.Errorf("%w: %q is %s", ErrServerNotConnected, c.name, c.status)
	}
	return c.session, nil
}

// failed inspects a request error. Broken transports close the session so
// the monitor reports the drop; provider and context errors pass through.
func (c *Client) failed(session *mcp.ClientSession, err error) error {
	if !isTransportError(err) {
		return err
	}
	c.log.Warn("mcp transport failed", slog.Any("error", err))
	go session.Close()
	return fmt.Errorf("%w: %s: %w", ErrTransportFailure, c.name, err)
}

func isTransportError(err error) bool {
	return errors.Is(err, mcp.ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// paginate follows next cursors until the provider returns an empty one.
func paginate[T any](ctx context.Context, fetch func(context.Context, string) ([]T, string, error)) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for {
		page, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		if next == cursor {
			return nil, fmt.Errorf("mcpmgr: pagination cursor %q did not advance", next)
		}
		cursor = next
	}
}

// ListTools returns every tool the server exposes, following pagination.
// Servers without tool support yield an empty list.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	tools, err := paginate(ctx, func(ctx context.Context, cursor string) ([]*mcp.Tool, string, error) {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.Tools, res.NextCursor, nil
	})
	if err != nil {
		if isMethodUnavailableError(err, "tools/list") {
			return []*mcp.Tool{}, nil
		}
		return nil, c.failed(session, err)
	}
	return tools, nil
}

// ListResources returns every resource the server exposes, following
// pagination.
func (c *Client) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	resources, err := paginate(ctx, func(ctx context.Context, cursor string) ([]*mcp.Resource, string, error) {
		res, err := session.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.Resources, res.NextCursor, nil
	})
	if err != nil {
		if isMethodUnavailableError(err, "resources/list") {
			return []*mcp.Resource{}, nil
		}
		return nil, c.failed(session, err)
	}
	return resources, nil
}

// ListPrompts returns every prompt the server exposes, following pagination.
func (c *Client) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	prompts, err := paginate(ctx, func(ctx context.Context, cursor string) ([]*mcp.Prompt, string, error) {
		res, err := session.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.Prompts, res.NextCursor, nil
	})
	if err != nil {
		if isMethodUnavailableError(err, "prompts/list") {
			return []*mcp.Prompt{}, nil
		}
		return nil, c.failed(session, err)
	}
	return prompts, nil
}

// CallTool forwards a tools/call request. A zero timeout uses the client's
// configured timeout.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required for %q", c.name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if timeout <= 0 {
		timeout = c.timeout()
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, c.failed(session, err)
	}
	return res, nil
}

// ReadResource reads a single resource. Failures are scoped to this call.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, c.failed(session, fmt.Errorf("mcpmgr: read %s from %q: %w", uri, c.name, err))
	}
	return res, nil
}

// GetPrompt renders one prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := c.live()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	res, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, c.failed(session, err)
	}
	return res, nil
}

// Ping sends a protocol-level ping.
func (c *Client) Ping(ctx context.Context) error {
	session, err := c.live()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.timeout())
	defer cancel()
	if err := session.Ping(ctx, nil); err != nil {
		return c.failed(session, err)
	}
	return nil
}
