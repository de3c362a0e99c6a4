package computer

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/a2c-computer-go/pkg/desktop"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// EventKind classifies an UpdateEvent.
type EventKind string

const (
	// EventTools means the tool listing may have changed.
	EventTools EventKind = "tools"
	// EventDesktop means window resources may have changed.
	EventDesktop EventKind = "desktop"
	// EventConfig means a server was added, updated, removed, started or
	// stopped.
	EventConfig EventKind = "config"
)

// UpdateEvent tells listeners that something agents can see has changed.
type UpdateEvent struct {
	Kind   EventKind `json:"kind"`
	Server string    `json:"server,omitempty"`
}

// OnUpdate registers fn for every later UpdateEvent and returns a function
// that unregisters it. Listeners run one at a time, in event order, on a
// goroutine owned by the Computer.
func (c *Computer) OnUpdate(fn func(UpdateEvent)) (cancel func()) {
	return c.events.subscribe(fn)
}

func (c *Computer) watchNotifications() {
	c.manager.OnToolListChanged(mcpmgr.AllServers, func(_ context.Context, server string, _ *mcp.ToolListChangedRequest) {
		c.tools.invalidate()
		c.events.emit(UpdateEvent{Kind: EventTools, Server: server})
	})
	// A reconnected server may come back with a different tool set.
	c.manager.OnServerStateChanged(func(string, mcpmgr.ConnectionStatus) {
		c.tools.invalidate()
	})
	c.manager.OnResourceListChanged(mcpmgr.AllServers, func(_ context.Context, server string, _ *mcp.ResourceListChangedRequest) {
		c.events.emit(UpdateEvent{Kind: EventDesktop, Server: server})
	})
	c.manager.OnResourceUpdated(mcpmgr.AllServers, func(_ context.Context, server string, req *mcp.ResourceUpdatedNotificationRequest) {
		if req != nil && req.Params != nil && desktop.IsWindowURI(req.Params.URI) {
			c.events.emit(UpdateEvent{Kind: EventDesktop, Server: server})
		}
	})
}

type subscriber struct {
	fn func(UpdateEvent)
}

// broadcaster delivers events from a single goroutine so slow listeners
// never block a session reading notifications.
type broadcaster struct {
	log *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []UpdateEvent
	subs   []*subscriber
	closed bool
	done   chan struct{}
}

func newBroadcaster(log *slog.Logger) *broadcaster {
	b := &broadcaster{log: log, done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

func (b *broadcaster) subscribe(fn func(UpdateEvent)) func() {
	if fn == nil {
		return func() {}
	}
	s := &subscriber{fn: fn}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.subs = slices.DeleteFunc(b.subs, func(x *subscriber) bool { return x == s })
		b.mu.Unlock()
	}
}

func (b *broadcaster) emit(ev UpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.subs) == 0 {
		return
	}
	b.queue = append(b.queue, ev)
	b.cond.Signal()
}

func (b *broadcaster) loop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		subs := slices.Clone(b.subs)
		b.mu.Unlock()
		for _, s := range subs {
			b.deliver(s, ev)
		}
	}
}

func (b *broadcaster) deliver(s *subscriber, ev UpdateEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update listener panicked", slog.String("kind", string(ev.Kind)), slog.Any("panic", r))
		}
	}()
	s.fn(ev)
}

// close drains queued events and stops the loop.
func (b *broadcaster) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}
