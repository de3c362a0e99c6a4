package mcpmgr

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// ReconnectPolicy describes how a dropped or failed server is retried.
type ReconnectPolicy struct {
	// MaxAttempts bounds the retries per outage. Defaults to 3.
	MaxAttempts int
	// Delay is the wait before the first retry. Defaults to one second.
	Delay time.Duration
	// Multiplier scales the delay after each failed retry. Values below 1
	// mean a fixed delay.
	Multiplier float64
	// MaxDelay caps the scaled delay. Defaults to 30 seconds.
	MaxDelay time.Duration
}

// DefaultReconnectPolicy returns three fixed one-second retries.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, Delay: time.Second, Multiplier: 1, MaxDelay: 30 * time.Second}
}

func (p ReconnectPolicy) normalized() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Backoff returns the wait before the given 1-based attempt.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

type retryLoop struct {
	cancel  context.CancelFunc
	pending bool
}

// SetAutoReconnect toggles reconnect scheduling. Turning it off cancels any
// retry loop already waiting.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	m.options.AutoReconnect = enabled
	if !enabled {
		for name := range m.retrying {
			m.cancelRetryLocked(name)
		}
	}
	m.mu.Unlock()
}

// AutoReconnect reports whether reconnect scheduling is enabled.
func (m *Manager) AutoReconnect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.options.AutoReconnect
}

func (m *Manager) cancelRetryLocked(name string) {
	if loop, ok := m.retrying[name]; ok {
		loop.cancel()
		delete(m.retrying, name)
	}
}

// handleDrop is installed on every client the manager creates. It runs for
// failed connects and for sessions that ended without Disconnect.
func (m *Manager) handleDrop(c *Client, err error) {
	m.log.Warn("mcp server dropped", slog.String("server", c.Name()), slog.Any("error", err))
	m.scheduleReconnect(c)
}

func (m *Manager) scheduleReconnect(c *Client) {
	name := c.Name()
	m.mu.Lock()
	if m.closed || !m.options.AutoReconnect || m.clients[name] != c {
		m.mu.Unlock()
		return
	}
	if loop, running := m.retrying[name]; running {
		loop.pending = true
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.lifetime)
	loop := &retryLoop{cancel: cancel}
	m.retrying[name] = loop
	policy := m.options.Reconnect
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		ok := m.runReconnect(ctx, c, policy)

		m.mu.Lock()
		again := false
		if m.retrying[name] == loop {
			delete(m.retrying, name)
			// A drop that raced the successful attempt still needs a loop.
			again = ok && loop.pending && c.Status() == StatusDisconnected
		}
		m.mu.Unlock()
		if again {
			m.scheduleReconnect(c)
		}
	}()
}

func (m *Manager) runReconnect(ctx context.Context, c *Client, policy ReconnectPolicy) bool {
	name := c.Name()
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if !m.isCurrent(c) {
			return false
		}
		if c.Status() == StatusConnected {
			return true
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
		err := c.connect(attemptCtx, false)
		cancel()
		if err == nil {
			m.log.Info("mcp server reconnected", slog.String("server", name), slog.Int("attempt", attempt))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		m.log.Warn("mcp server reconnect failed",
			slog.String("server", name),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	m.log.Error("mcp server reconnect attempts exhausted",
		slog.String("server", name),
		slog.Int("attempts", policy.MaxAttempts))
	return false
}

func (m *Manager) isCurrent(c *Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.clients[c.Name()] == c
}
