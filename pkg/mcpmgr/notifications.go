package mcpmgr

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NotificationSchema identifies an MCP notification method.
type NotificationSchema string

const (
	NotificationSchemaToolListChanged     NotificationSchema = "notifications/tools/list_changed"
	NotificationSchemaPromptListChanged   NotificationSchema = "notifications/prompts/list_changed"
	NotificationSchemaResourceListChanged NotificationSchema = "notifications/resources/list_changed"
	NotificationSchemaResourceUpdated     NotificationSchema = "notifications/resources/updated"
	NotificationSchemaLogging             NotificationSchema = "notifications/message"
	NotificationSchemaProgress            NotificationSchema = "notifications/progress"
)

// AllServers registers a handler for every server, including servers added
// after registration.
const AllServers = ""

// NotificationPayload carries the raw request associated with a notification
// so callers can perform custom decoding when necessary.
type NotificationPayload struct {
	Server  string
	Method  NotificationSchema
	Request mcp.Request
}

// NotificationHandlerFunc receives notifications of one schema.
type NotificationHandlerFunc func(context.Context, NotificationPayload)

type notificationRegistry struct {
	toolListHandlers       []func(context.Context, string, *mcp.ToolListChangedRequest)
	promptListHandlers     []func(context.Context, string, *mcp.PromptListChangedRequest)
	resourceListHandlers   []func(context.Context, string, *mcp.ResourceListChangedRequest)
	resourceUpdateHandlers []func(context.Context, string, *mcp.ResourceUpdatedNotificationRequest)
}

// OnToolListChanged registers a handler for tool list notifications from
// server, or from every server when server is AllServers.
func (m *Manager) OnToolListChanged(server string, handler func(ctx context.Context, server string, req *mcp.ToolListChangedRequest)) {
	m.mu.Lock()
	reg := m.ensureRegistryLocked(server)
	reg.toolListHandlers = append(reg.toolListHandlers, handler)
	m.mu.Unlock()
}

// OnPromptListChanged registers a handler for prompt list notifications.
func (m *Manager) OnPromptListChanged(server string, handler func(ctx context.Context, server string, req *mcp.PromptListChangedRequest)) {
	m.mu.Lock()
	reg := m.ensureRegistryLocked(server)
	reg.promptListHandlers = append(reg.promptListHandlers, handler)
	m.mu.Unlock()
}

// OnResourceListChanged registers a handler for resource list notifications.
func (m *Manager) OnResourceListChanged(server string, handler func(ctx context.Context, server string, req *mcp.ResourceListChangedRequest)) {
	m.mu.Lock()
	reg := m.ensureRegistryLocked(server)
	reg.resourceListHandlers = append(reg.resourceListHandlers, handler)
	m.mu.Unlock()
}

// OnResourceUpdated registers a handler for resource updated notifications.
func (m *Manager) OnResourceUpdated(server string, handler func(ctx context.Context, server string, req *mcp.ResourceUpdatedNotificationRequest)) {
	m.mu.Lock()
	reg := m.ensureRegistryLocked(server)
	reg.resourceUpdateHandlers = append(reg.resourceUpdateHandlers, handler)
	m.mu.Unlock()
}

// AddNotificationHandler registers a handler for an arbitrary notification
// schema observed on the wire.
func (m *Manager) AddNotificationHandler(server string, schema NotificationSchema, handler NotificationHandlerFunc) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rawNotifications[server]; !ok {
		m.rawNotifications[server] = make(map[NotificationSchema][]NotificationHandlerFunc)
	}
	m.rawNotifications[server][schema] = append(m.rawNotifications[server][schema], handler)
}

func (m *Manager) ensureRegistryLocked(server string) *notificationRegistry {
	reg := m.notifications[server]
	if reg == nil {
		reg = &notificationRegistry{}
		m.notifications[server] = reg
	}
	return reg
}

// registries returns the server-specific registry followed by the wildcard
// one. Callers must hold m.mu.
func (m *Manager) registriesLocked(server string) []*notificationRegistry {
	var regs []*notificationRegistry
	if reg := m.notifications[server]; reg != nil && server != AllServers {
		regs = append(regs, reg)
	}
	if reg := m.notifications[AllServers]; reg != nil {
		regs = append(regs, reg)
	}
	return regs
}

func dispatch[R any](ctx context.Context, m *Manager, server string, req R, pick func(*notificationRegistry) []func(context.Context, string, R)) {
	m.mu.RLock()
	var handlers []func(context.Context, string, R)
	for _, reg := range m.registriesLocked(server) {
		handlers = append(handlers, pick(reg)...)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer m.recoverHandler(server)
			h(ctx, server, req)
		}()
	}
}

func (m *Manager) recoverHandler(server string) {
	if r := recover(); r != nil {
		m.log.Error("notification handler panicked", slog.String("server", server), slog.Any("panic", r))
	}
}

// composeClientOptions wraps the list-changed handlers so every notification
// also reaches the manager's subscribers.
func (m *Manager) composeClientOptions(server string) mcp.ClientOptions {
	wrapped := m.options.DefaultClientOptions

	prevTools := wrapped.ToolListChangedHandler
	prevPrompts := wrapped.PromptListChangedHandler
	prevResources := wrapped.ResourceListChangedHandler
	prevUpdated := wrapped.ResourceUpdatedHandler

	wrapped.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if prevTools != nil {
			prevTools(ctx, req)
		}
		dispatch(ctx, m, server, req, func(r *notificationRegistry) []func(context.Context, string, *mcp.ToolListChangedRequest) {
			return r.toolListHandlers
		})
	}
	wrapped.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if prevPrompts != nil {
			prevPrompts(ctx, req)
		}
		dispatch(ctx, m, server, req, func(r *notificationRegistry) []func(context.Context, string, *mcp.PromptListChangedRequest) {
			return r.promptListHandlers
		})
	}
	wrapped.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if prevResources != nil {
			prevResources(ctx, req)
		}
		dispatch(ctx, m, server, req, func(r *notificationRegistry) []func(context.Context, string, *mcp.ResourceListChangedRequest) {
			return r.resourceListHandlers
		})
	}
	wrapped.ResourceUpdatedHandler = func(ctx context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
		if prevUpdated != nil {
			prevUpdated(ctx, req)
		}
		dispatch(ctx, m, server, req, func(r *notificationRegistry) []func(context.Context, string, *mcp.ResourceUpdatedNotificationRequest) {
			return r.resourceUpdateHandlers
		})
	}
	return wrapped
}

func (m *Manager) dispatchRawNotification(ctx context.Context, server string, schema NotificationSchema, req mcp.Request) {
	m.mu.RLock()
	var handlers []NotificationHandlerFunc
	if server != AllServers {
		handlers = append(handlers, m.rawNotifications[server][schema]...)
	}
	handlers = append(handlers, m.rawNotifications[AllServers][schema]...)
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	payload := NotificationPayload{Server: server, Method: schema, Request: req}
	for _, h := range handlers {
		func() {
			defer m.recoverHandler(server)
			h(ctx, payload)
		}()
	}
}

func (m *Manager) notificationMiddleware(server string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "" {
				m.dispatchRawNotification(ctx, server, NotificationSchema(method), req)
			}
			return next(ctx, method, req)
		}
	}
}
