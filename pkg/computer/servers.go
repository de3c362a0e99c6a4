package computer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// ServerStatus is one row of Servers.
type ServerStatus struct {
	Name     string                  `json:"name"`
	Type     mcpmgr.ConfigTransport  `json:"type"`
	Disabled bool                    `json:"disabled"`
	Status   mcpmgr.ConnectionStatus `json:"status"`
}

func (c *Computer) declaredConfigs() []mcpmgr.ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.declared))
	for name := range c.declared {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]mcpmgr.ServerConfig, 0, len(names))
	for _, name := range names {
		out = append(out, mcpmgr.Clone(c.declared[name]))
	}
	return out
}

// ServerConfig returns the declared, unrendered configuration of name.
func (c *Computer) ServerConfig(name string) (mcpmgr.ServerConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.declared[name]
	if !ok {
		return nil, false
	}
	return mcpmgr.Clone(cfg), true
}

// Servers lists every declared server with its connection status.
func (c *Computer) Servers() []ServerStatus {
	cfgs := c.declaredConfigs()
	out := make([]ServerStatus, 0, len(cfgs))
	for _, cfg := range cfgs {
		name := mcpmgr.NameOf(cfg)
		out = append(out, ServerStatus{
			Name:     name,
			Type:     mcpmgr.TransportOf(cfg),
			Disabled: mcpmgr.BaseOf(cfg).Disabled,
			Status:   c.manager.Status(name),
		})
	}
	return out
}

// AddOrUpdateServer declares cfg, replacing any server with the same name,
// renders it and applies it to the manager. A transport change restarts a
// running server; a metadata change is applied in place. With AutoConnect
// the server is started if it is enabled and not yet connected.
func (c *Computer) AddOrUpdateServer(ctx context.Context, cfg mcpmgr.ServerConfig) (mcpmgr.ApplyAction, error) {
	if err := mcpmgr.Validate(cfg); err != nil {
		return "", err
	}
	if c.isClosed() {
		return "", ErrClosed
	}
	name := mcpmgr.NameOf(cfg)
	c.mu.Lock()
	c.declared[name] = mcpmgr.Clone(cfg)
	c.mu.Unlock()

	action, err := c.manager.ApplyConfig(ctx, c.render(ctx, cfg))
	defer c.changed(name)
	if err != nil {
		return action, err
	}
	if c.AutoConnect() && !mcpmgr.BaseOf(cfg).Disabled && c.manager.Status(name) != mcpmgr.StatusConnected {
		if err := c.manager.StartClient(ctx, name); err != nil {
			return action, err
		}
	}
	c.log.Debug("server applied", slog.String("server", name), slog.String("action", string(action)))
	return action, nil
}

// RemoveServer disconnects and forgets name. It reports whether the server
// was declared.
func (c *Computer) RemoveServer(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	_, ok := c.declared[name]
	delete(c.declared, name)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	defer c.changed(name)
	_, err := c.manager.RemoveServer(ctx, name)
	return true, err
}

// StartServer connects a declared server.
func (c *Computer) StartServer(ctx context.Context, name string) error {
	defer c.changed(name)
	return c.manager.StartClient(ctx, name)
}

// StopServer disconnects a declared server, keeping its configuration.
func (c *Computer) StopServer(ctx context.Context, name string) error {
	defer c.changed(name)
	return c.manager.StopClient(ctx, name)
}

// ApplyConfig reconciles the whole declarative configuration: input
// definitions are replaced, servers missing from servers are removed and the
// rest go through AddOrUpdateServer. Per-server failures are joined.
func (c *Computer) ApplyConfig(ctx context.Context, servers []mcpmgr.ServerConfig, defs []inputs.Definition) error {
	if err := c.inputs.Replace(defs); err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(servers))
	for _, cfg := range servers {
		if err := mcpmgr.Validate(cfg); err != nil {
			return err
		}
		name := mcpmgr.NameOf(cfg)
		if _, dup := keep[name]; dup {
			return fmt.Errorf("%w: duplicate server name %q", mcpmgr.ErrInvalidConfig, name)
		}
		keep[name] = struct{}{}
	}

	var errs []error
	for _, cfg := range c.declaredConfigs() {
		name := mcpmgr.NameOf(cfg)
		if _, ok := keep[name]; ok {
			continue
		}
		if _, err := c.RemoveServer(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, cfg := range servers {
		if _, err := c.AddOrUpdateServer(ctx, cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mcpmgr.NameOf(cfg), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Computer) changed(server string) {
	c.tools.invalidate()
	c.events.emit(UpdateEvent{Kind: EventConfig, Server: server})
}
