// Package computer is the composition root of an A2C computer: it owns the
// input resolver, the connection manager and the call history, and exposes
// the unified tool, resource and desktop namespace to callers.
package computer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vikashloomba/a2c-computer-go/pkg/history"
	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// DefaultName identifies a Computer when Options.Name is empty.
const DefaultName = "a2c-computer"

// Options configures a Computer.
type Options struct {
	// Name is the computer identity checked against protocol requests.
	Name string
	// Servers and Inputs are the initial declarative configuration. Server
	// parameters may contain ${input:ID} placeholders.
	Servers []mcpmgr.ServerConfig
	Inputs  []inputs.Definition
	// AutoConnect starts every enabled server on Start and after
	// AddOrUpdateServer.
	AutoConnect bool
	// AutoReconnect retries servers that drop or fail to start, following
	// Manager.Reconnect.
	AutoReconnect bool
	// Manager tunes the underlying connection manager. AutoReconnect and
	// Logger above take precedence over the matching fields.
	Manager mcpmgr.ManagerOptions
	// HistorySize bounds the in-memory call history. Nil means
	// history.DefaultCapacity, zero means unbounded.
	HistorySize *int
	// HistorySink mirrors every history record.
	HistorySink history.Sink
	// Confirm is consulted before running a tool whose auto_apply is false.
	Confirm ConfirmFunc
	// Prompter answers inputs that have neither a cached value nor a default.
	Prompter inputs.Prompter
	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Manager.AutoReconnect = opts.AutoReconnect
	opts.Manager.Logger = opts.Logger
	return opts
}

// Computer manages a named set of MCP servers on behalf of remote agents.
type Computer struct {
	name    string
	opts    Options
	log     *slog.Logger
	manager *mcpmgr.Manager
	inputs  *inputs.Resolver
	history *history.Log

	mu          sync.RWMutex
	declared    map[string]mcpmgr.ServerConfig
	autoConnect bool
	closed      bool

	tools toolCache

	events *broadcaster
}

// New validates the configuration and builds a Computer. Nothing is
// connected until Start or BootUp.
func New(opts *Options) (*Computer, error) {
	options := opts.withDefaults()
	resolver, err := inputs.NewResolver(options.Inputs, &inputs.Options{
		Prompter: options.Prompter,
		Logger:   options.Logger,
	})
	if err != nil {
		return nil, err
	}
	declared := make(map[string]mcpmgr.ServerConfig, len(options.Servers))
	for _, cfg := range options.Servers {
		if err := mcpmgr.Validate(cfg); err != nil {
			return nil, err
		}
		name := mcpmgr.NameOf(cfg)
		if _, dup := declared[name]; dup {
			return nil, fmt.Errorf("%w: duplicate server name %q", mcpmgr.ErrInvalidConfig, name)
		}
		declared[name] = mcpmgr.Clone(cfg)
	}
	manager, err := mcpmgr.NewManager(nil, &options.Manager)
	if err != nil {
		return nil, err
	}
	c := &Computer{
		name:    options.Name,
		opts:    options,
		log:     options.Logger.With(slog.String("computer", options.Name)),
		manager: manager,
		inputs:  resolver,
		history: history.New(&history.Options{
			Capacity: options.HistorySize,
			Sink:     options.HistorySink,
			Logger:   options.Logger,
		}),
		declared:    declared,
		autoConnect: options.AutoConnect,
	}
	c.events = newBroadcaster(c.log)
	c.watchNotifications()
	return c, nil
}

// Name reports the computer identity.
func (c *Computer) Name() string { return c.name }

// Manager exposes the underlying connection manager.
func (c *Computer) Manager() *mcpmgr.Manager { return c.manager }

// Inputs exposes the input resolver.
func (c *Computer) Inputs() *inputs.Resolver { return c.inputs }

// History exposes the call history.
func (c *Computer) History() *history.Log { return c.history }

// AutoConnect reports whether servers start automatically.
func (c *Computer) AutoConnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoConnect
}

// SetAutoConnect toggles automatic starts for later configuration changes.
func (c *Computer) SetAutoConnect(enabled bool) {
	c.mu.Lock()
	c.autoConnect = enabled
	c.mu.Unlock()
}

// AutoReconnect reports whether dropped servers are retried.
func (c *Computer) AutoReconnect() bool { return c.manager.AutoReconnect() }

// SetAutoReconnect toggles reconnect attempts. Disabling cancels pending
// retries.
func (c *Computer) SetAutoReconnect(enabled bool) { c.manager.SetAutoReconnect(enabled) }

// Start registers every declared server with the manager and, when
// AutoConnect is set, boots them. Start failures of individual servers are
// returned joined and do not make the Computer unusable.
func (c *Computer) Start(ctx context.Context) error {
	if c.AutoConnect() {
		return c.BootUp(ctx)
	}
	return c.register(ctx)
}

// BootUp renders and registers every declared server, then starts the
// enabled ones concurrently. A server whose placeholders fail to render is
// started with its unrendered configuration.
func (c *Computer) BootUp(ctx context.Context) error {
	if err := c.register(ctx); err != nil {
		return err
	}
	err := c.manager.StartAll(ctx)
	c.tools.invalidate()
	c.log.Info("computer booted", slog.Int("servers", len(c.manager.ListServers())), slog.Bool("degraded", err != nil))
	return err
}

func (c *Computer) register(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	var errs []error
	for _, cfg := range c.declaredConfigs() {
		if _, err := c.manager.ApplyConfig(ctx, c.render(ctx, cfg)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mcpmgr.NameOf(cfg), err))
		}
	}
	return errors.Join(errs...)
}

// render substitutes input placeholders. A render failure is logged and the
// original configuration is returned.
func (c *Computer) render(ctx context.Context, cfg mcpmgr.ServerConfig) mcpmgr.ServerConfig {
	rendered, err := mcpmgr.RewriteStrings(cfg, func(s string) (string, error) {
		return c.inputs.RenderString(ctx, s)
	})
	if err != nil {
		c.log.Warn("server config render failed, using unrendered config",
			slog.String("server", mcpmgr.NameOf(cfg)), slog.Any("error", err))
		return mcpmgr.Clone(cfg)
	}
	return rendered
}

// Close disconnects every server and releases the Computer. It is safe to
// call more than once.
func (c *Computer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.manager.Close(ctx)
	c.events.close()
	c.log.Info("computer closed")
	return err
}

func (c *Computer) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Run builds a Computer, starts it, and hands it to fn. Every server is
// disconnected when Run returns, whether fn succeeded, failed or panicked.
// Start failures of individual servers are logged, not returned.
func Run(ctx context.Context, opts *Options, fn func(context.Context, *Computer) error) (err error) {
	c, err := New(opts)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := c.Close(context.WithoutCancel(ctx))
		if err == nil {
			err = closeErr
		}
	}()
	if startErr := c.Start(ctx); startErr != nil {
		c.log.Warn("some servers failed to start", slog.Any("error", startErr))
	}
	return fn(ctx, c)
}
