package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	Name   string
	Status ConnectionStatus
	Config ServerConfig
}

// ApplyAction describes what ApplyConfig did with a configuration.
type ApplyAction string

const (
	// ApplyAdded registered a new server. Nothing was started.
	ApplyAdded ApplyAction = "added"
	// ApplyUnchanged means the configuration was structurally identical.
	ApplyUnchanged ApplyAction = "unchanged"
	// ApplyUpdated replaced metadata in place without touching the transport.
	ApplyUpdated ApplyAction = "updated"
	// ApplyRestarted swapped the transport of an active client.
	ApplyRestarted ApplyAction = "restarted"
	// ApplyReplaced changed the transport of a server with no active client.
	ApplyReplaced ApplyAction = "replaced"
	// ApplyStopped stopped an active client because the server was disabled.
	ApplyStopped ApplyAction = "stopped"
)

// Manager keeps one Client per configured server name.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	log     *slog.Logger
	dial    dialFunc

	configs    map[string]ServerConfig
	clients    map[string]*Client
	restarting map[string]*signal
	retrying   map[string]*retryLoop
	nameLocks  map[string]*sync.Mutex

	notifications    map[string]*notificationRegistry
	rawNotifications map[string]map[NotificationSchema][]NotificationHandlerFunc

	// serverRemovedHandlers are invoked after a server is removed via RemoveServer.
	serverRemovedHandlers []func(string)
	stateHandlers         []func(string, ConnectionStatus)

	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// NewManager constructs a Manager with optional initial server
// configurations. Configurations are registered but not started; call
// StartClient or StartAll to dial them.
func NewManager(cfgs []ServerConfig, opts *ManagerOptions) (*Manager, error) {
	options := opts.normalized()
	lifetime, stop := context.WithCancel(context.Background())
	m := &Manager{
		options:          options,
		log:              options.Logger,
		configs:          make(map[string]ServerConfig),
		clients:          make(map[string]*Client),
		restarting:       make(map[string]*signal),
		retrying:         make(map[string]*retryLoop),
		nameLocks:        make(map[string]*sync.Mutex),
		notifications:    make(map[string]*notificationRegistry),
		rawNotifications: make(map[string]map[NotificationSchema][]NotificationHandlerFunc),
		lifetime:         lifetime,
		stop:             stop,
	}
	for _, cfg := range cfgs {
		if err := Validate(cfg); err != nil {
			stop()
			return nil, err
		}
		name := NameOf(cfg)
		if _, dup := m.configs[name]; dup {
			stop()
			return nil, fmt.Errorf("%w: duplicate server name %q", ErrInvalidConfig, name)
		}
		m.configs[name] = cfg.clone()
	}
	return m, nil
}

// ListServers returns known server names in sorted order.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasServer reports whether a server name is known.
func (m *Manager) HasServer(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[name]
	return ok
}

// GetServerConfig returns a copy of the stored configuration, or nil.
func (m *Manager) GetServerConfig(name string) ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[name]; ok {
		return cfg.clone()
	}
	return nil
}

// GetClient exposes the active client for a server. The value is nil when
// the server was never started or has been stopped.
func (m *Manager) GetClient(name string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[name]
}

// Status returns the connection status for name. Servers without an active
// client report StatusDisconnected.
func (m *Manager) Status(name string) ConnectionStatus {
	if c := m.GetClient(name); c != nil {
		return c.Status()
	}
	return StatusDisconnected
}

// GetServerSummaries returns status snapshots for all managed servers.
func (m *Manager) GetServerSummaries() []ServerSummary {
	names := m.ListServers()
	summaries := make([]ServerSummary, 0, len(names))
	for _, name := range names {
		cfg := m.GetServerConfig(name)
		if cfg == nil {
			continue
		}
		summaries = append(summaries, ServerSummary{Name: name, Status: m.Status(name), Config: cfg})
	}
	return summaries
}

func (m *Manager) lockName(name string) func() {
	m.mu.Lock()
	l, ok := m.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.nameLocks[name] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) newClientLocked(cfg ServerConfig) (*Client, error) {
	name := NameOf(cfg)
	base := cfg.base()
	return NewClient(cfg, &ClientOptions{
		Implementation: &mcp.Implementation{
			Name:    m.effectiveClientName(name),
			Version: m.effectiveClientVersion(base),
		},
		MCPOptions: m.composeClientOptions(name),
		Middleware: []mcp.Middleware{m.notificationMiddleware(name)},
		Timeout:    m.options.DefaultTimeout,
		RPCLogger:  m.resolveRPCLogger(base),
		HTTPClient: m.options.HTTPClient,
		OnDrop:     m.handleDrop,
		OnStatus:   m.clientSettled,
		Logger:     m.log,
		dial:       m.dial,
	})
}

func (m *Manager) effectiveClientName(name string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return name
}

func (m *Manager) effectiveClientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

func (m *Manager) resolveRPCLogger(base *BaseServerConfig) RPCLogger {
	if !base.LogJSONRPC && !m.options.DefaultLogJSONRPC {
		return nil
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	return slogRPCLogger(m.log)
}

// StartClient connects the named server, creating its client if necessary.
// Concurrent starts share one handshake.
func (m *Manager) StartClient(ctx context.Context, name string) error {
	for {
		unlock := m.lockName(name)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			unlock()
			return ErrManagerClosed
		}
		cfg, ok := m.configs[name]
		if !ok {
			m.mu.Unlock()
			unlock()
			return fmt.Errorf("%w: %q", ErrServerNotFound, name)
		}
		if cfg.base().Disabled {
			m.mu.Unlock()
			unlock()
			return fmt.Errorf("%w: %q", ErrServerDisabled, name)
		}
		c := m.clients[name]
		if c == nil {
			var err error
			if c, err = m.newClientLocked(cfg); err != nil {
				m.mu.Unlock()
				unlock()
				return err
			}
			m.clients[name] = c
		}
		m.mu.Unlock()
		unlock()

		err := c.Connect(ctx)
		if err != nil && ctx.Err() == nil && m.replaced(c) {
			// Swapped by ApplyConfig while we were dialing; follow the
			// replacement rather than reporting the retired client.
			continue
		}
		return err
	}
}

func (m *Manager) replaced(c *Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	current := m.clients[c.Name()]
	return !m.closed && current != nil && current != c
}

// StopClient disconnects and removes the active client for name. It is a
// no-op when no client is active.
func (m *Manager) StopClient(ctx context.Context, name string) error {
	unlock := m.lockName(name)
	defer unlock()
	m.mu.Lock()
	c := m.clients[name]
	delete(m.clients, name)
	m.cancelRetryLocked(name)
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	c.retire()
	return c.Disconnect(ctx)
}

// StartAll starts every enabled server concurrently. Failures do not stop
// the remaining servers; they are joined into the returned error.
func (m *Manager) StartAll(ctx context.Context) error {
	var names []string
	m.mu.RLock()
	for name, cfg := range m.configs {
		if !cfg.base().Disabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return m.forEach(names, func(name string) error {
		return m.StartClient(ctx, name)
	})
}

// StopAll stops every active client concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return m.forEach(names, func(name string) error {
		return m.StopClient(ctx, name)
	})
}

// Close stops every client, cancels pending reconnects, and rejects further
// starts. It waits for background goroutines to exit or for ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stop()
	m.mu.Unlock()

	err := m.StopAll(ctx)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-done:
		return err
	}
}

// ApplyConfig reconciles one server configuration with the stored one.
//
// An unknown name is registered and left stopped. An identical config is a
// no-op. A change that keeps the transport identical is applied in place. A
// transport change on an active client swaps it: the replacement enters the
// map before the old client is disconnected, and calls arriving meanwhile
// wait for the new connection (or fail with ErrServerRestarting). Disabling
// a server stops its client.
func (m *Manager) ApplyConfig(ctx context.Context, cfg ServerConfig) (ApplyAction, error) {
	if err := Validate(cfg); err != nil {
		return "", err
	}
	cfg = cfg.clone()
	name := NameOf(cfg)
	disabled := cfg.base().Disabled

	unlock := m.lockName(name)
	defer unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	prev, exists := m.configs[name]
	if !exists {
		m.configs[name] = cfg
		m.mu.Unlock()
		m.log.Info("mcp server added", slog.String("server", name))
		return ApplyAdded, nil
	}
	if Equal(prev, cfg) {
		m.mu.Unlock()
		return ApplyUnchanged, nil
	}
	m.configs[name] = cfg
	old := m.clients[name]
	if disabled && old != nil {
		delete(m.clients, name)
		m.cancelRetryLocked(name)
		m.mu.Unlock()
		old.retire()
		m.log.Info("mcp server disabled", slog.String("server", name))
		return ApplyStopped, old.Disconnect(ctx)
	}
	if TransportEqual(prev, cfg) {
		if old != nil {
			old.updateConfig(cfg)
		}
		m.mu.Unlock()
		m.log.Info("mcp server metadata updated", slog.String("server", name))
		return ApplyUpdated, nil
	}
	if old == nil {
		m.mu.Unlock()
		return ApplyReplaced, nil
	}
	next, err := m.newClientLocked(cfg)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	swap := newSignal()
	m.restarting[name] = swap
	m.clients[name] = next
	m.cancelRetryLocked(name)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.restarting[name] == swap {
			delete(m.restarting, name)
		}
		m.mu.Unlock()
		swap.fire()
	}()

	m.log.Info("mcp server transport changed, restarting", slog.String("server", name))
	old.retire()
	if err := old.Disconnect(ctx); err != nil {
		m.log.Warn("mcp server disconnect during restart failed", slog.String("server", name), slog.Any("error", err))
	}
	if err := next.Connect(ctx); err != nil {
		return ApplyRestarted, err
	}
	return ApplyRestarted, nil
}

// RemoveServer stops the server and forgets its configuration. It reports
// whether the name was known.
func (m *Manager) RemoveServer(ctx context.Context, name string) (bool, error) {
	if !m.HasServer(name) {
		return false, nil
	}
	if err := m.StopClient(ctx, name); err != nil {
		return true, err
	}
	m.mu.Lock()
	delete(m.configs, name)
	delete(m.notifications, name)
	delete(m.rawNotifications, name)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()
	m.log.Info("mcp server removed", slog.String("server", name))
	// Notify out of lock to avoid deadlocks.
	for _, h := range handlers {
		func() {
			defer m.recoverHandler(name)
			h(name)
		}()
	}
	return true, nil
}

// OnServerRemoved registers a callback invoked after RemoveServer deletes the
// server from the manager. Handlers run without the manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.mu.Unlock()
}

// OnServerStateChanged registers a callback invoked whenever the current
// client of a server becomes connected or disconnected, reconnects
// included. Clients being replaced or removed do not report.
func (m *Manager) OnServerStateChanged(handler func(server string, status ConnectionStatus)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.stateHandlers = append(m.stateHandlers, handler)
	m.mu.Unlock()
}

func (m *Manager) clientSettled(c *Client, status ConnectionStatus) {
	m.mu.RLock()
	current := !m.closed && m.clients[c.Name()] == c
	handlers := append([]func(string, ConnectionStatus){}, m.stateHandlers...)
	m.mu.RUnlock()
	if !current {
		return
	}
	for _, h := range handlers {
		func() {
			defer m.recoverHandler(c.Name())
			h(c.Name(), status)
		}()
	}
}

// route resolves the client a request should use. It never starts a
// connection.
func (m *Manager) route(ctx context.Context, name string) (*Client, error) {
	for {
		m.mu.RLock()
		closed := m.closed
		_, known := m.configs[name]
		swap := m.restarting[name]
		c := m.clients[name]
		m.mu.RUnlock()
		switch {
		case closed:
			return nil, ErrManagerClosed
		case !known:
			return nil, fmt.Errorf("%w: %q", ErrServerNotFound, name)
		case swap != nil:
			if m.options.FailFastOnRestart {
				return nil, fmt.Errorf("%w: %q", ErrServerRestarting, name)
			}
			waitCtx, cancel := context.WithTimeout(ctx, m.options.DefaultTimeout)
			err := swap.wait(waitCtx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrServerRestarting, name)
			}
			continue
		case c == nil:
			return nil, fmt.Errorf("%w: %q is not started", ErrServerNotConnected, name)
		}
		return c, nil
	}
}

// CallTool forwards a tools/call to the named server. Unknown servers yield
// ErrServerNotFound and stopped ones ErrServerNotConnected.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, tool, args, timeout)
}

// ListTools lists every tool on one server.
func (m *Manager) ListTools(ctx context.Context, server string) ([]*mcp.Tool, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.ListTools(ctx)
}

// ListResources lists every resource on one server.
func (m *Manager) ListResources(ctx context.Context, server string) ([]*mcp.Resource, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.ListResources(ctx)
}

// ListPrompts lists every prompt on one server.
func (m *Manager) ListPrompts(ctx context.Context, server string) ([]*mcp.Prompt, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.ListPrompts(ctx)
}

// ReadResource reads one resource from one server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri)
}

// GetPrompt renders one prompt from one server.
func (m *Manager) GetPrompt(ctx context.Context, server, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	c, err := m.route(ctx, server)
	if err != nil {
		return nil, err
	}
	return c.GetPrompt(ctx, prompt, args)
}

// PingServer sends a protocol-level ping to a connected server.
func (m *Manager) PingServer(ctx context.Context, server string) error {
	c, err := m.route(ctx, server)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}
