package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// DesktopURI is the gateway resource that renders the Computer's desktop as
// JSON.
const DesktopURI = "a2c://desktop"

// Gateway exposes a Streamable MCP server that fronts a Computer under a
// single HTTP endpoint.
type Gateway struct {
	computer *computer.Computer
	opts     Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	unsubscribe func()
	closed      atomic.Bool
}

// NewGateway builds a Gateway, synchronizes the initial feature snapshot, and
// follows the Computer's update events from then on.
func NewGateway(c *computer.Computer, opts *Options) (*Gateway, error) {
	if c == nil {
		return nil, errors.New("mcpgateway: computer is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		computer: c,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		SubscribeHandler:   g.handleSubscribe,
		UnsubscribeHandler: g.handleUnsubscribe,
	})
	g.server.AddResource(&mcp.Resource{
		URI:         DesktopURI,
		Name:        "desktop",
		Description: "Windows of every connected server, arranged for display",
		MIMEType:    "application/json",
	}, g.readDesktop)
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()
	g.httpHandler = g.mux
	if len(options.CORSOrigins) > 0 {
		g.httpHandler = cors.New(cors.Options{
			AllowedOrigins:   options.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Mcp-Session-Id"},
			AllowCredentials: true,
		}).Handler(g.mux)
	}

	c.Manager().OnResourceUpdated(mcpmgr.AllServers, g.forwardResourceUpdate)
	g.unsubscribe = c.OnUpdate(g.handleUpdate)

	if err := g.SyncAll(context.Background()); err != nil {
		options.Logger.Warn("initial gateway sync incomplete", "error", err)
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can mount extra routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe listens on Options.Addr and serves until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		return fmt.Errorf("mcpgateway: listen %s: %w", g.opts.Addr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve accepts agent connections on ln until ctx is cancelled or Shutdown
// is called. Only one Serve may run at a time.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: g.Handler()}
	g.httpServerMu.Lock()
	if running := g.httpServer; running != nil {
		g.httpServerMu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("mcpgateway: already serving on %s", running.Addr)
	}
	srv.Addr = ln.Addr().String()
	g.httpServer = srv
	g.httpServerMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	g.opts.Logger.Info("gateway listening", "addr", srv.Addr, "path", g.opts.Path)
	err := srv.Serve(ln)
	g.httpServerMu.Lock()
	if g.httpServer == srv {
		g.httpServer = nil
	}
	g.httpServerMu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a running Serve.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Close stops following the Computer. It does not close the Computer.
func (g *Gateway) Close() {
	if g.closed.Swap(true) {
		return
	}
	g.unsubscribe()
}

// SyncAll refreshes the tool set and every server's prompts and resources.
func (g *Gateway) SyncAll(ctx context.Context) error {
	errs := []error{g.syncTools(ctx)}
	servers := g.computer.Manager().ListServers()
	for _, name := range g.features.Servers() {
		if !slices.Contains(servers, name) {
			servers = append(servers, name)
		}
	}
	for _, server := range servers {
		if err := g.SyncServer(ctx, server); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
		}
	}
	return errors.Join(errs...)
}

// SyncServer refreshes the prompts and resources of one server. A server that
// is gone or not connected loses its entries.
func (g *Gateway) SyncServer(ctx context.Context, server string) error {
	mgr := g.computer.Manager()
	if mgr.Status(server) != mcpmgr.StatusConnected {
		g.forget(server)
		return nil
	}
	if err := g.syncPrompts(ctx, server); err != nil {
		return err
	}
	return g.syncResources(ctx, server)
}

func (g *Gateway) syncTools(ctx context.Context) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	list := g.computer.ListTools(ctx)
	removed, added := g.features.UpdateTools(list.Tools)
	register(g, removed, added, g.server.RemoveTools, func(r registration[*mcp.Tool]) {
		g.server.AddTool(r.Feature, g.makeToolHandler(r.Target))
	})
	return list.Err()
}

func (g *Gateway) syncPrompts(ctx context.Context, server string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	prompts, err := g.computer.Manager().ListPrompts(ctx, server)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdatePrompts(server, prompts)
	register(g, removed, added, g.server.RemovePrompts, func(r registration[*mcp.Prompt]) {
		g.server.AddPrompt(r.Feature, g.makePromptHandler(r.Target))
	})
	return nil
}

func (g *Gateway) syncResources(ctx context.Context, server string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	resources, err := g.computer.Manager().ListResources(ctx, server)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateResources(server, resources)
	register(g, removed, added, g.server.RemoveResources, func(r registration[*mcp.Resource]) {
		g.server.AddResource(r.Feature, g.makeResourceHandler(r.Target))
	})
	return nil
}

// register swaps server features under serverMu.
func register[R any](g *Gateway, removed []string, added []R, remove func(...string), add func(R)) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		remove(removed...)
	}
	for _, r := range added {
		add(r)
	}
}

func (g *Gateway) forget(server string) {
	prompts, resources := g.features.Forget(server)
	g.serverMu.Lock()
	if len(prompts) > 0 {
		g.server.RemovePrompts(prompts...)
	}
	if len(resources) > 0 {
		g.server.RemoveResources(resources...)
	}
	g.serverMu.Unlock()
}

func (g *Gateway) handleUpdate(ev computer.UpdateEvent) {
	if g.closed.Load() {
		return
	}
	ctx := context.Background()
	switch ev.Kind {
	case computer.EventTools:
		g.logError("sync tools", g.syncTools(ctx), "server", ev.Server)
	case computer.EventDesktop:
		g.logError("sync server", g.SyncServer(ctx, ev.Server), "server", ev.Server)
		g.desktopChanged(ctx)
	case computer.EventConfig:
		g.logError("sync tools", g.syncTools(ctx), "server", ev.Server)
		g.logError("sync server", g.SyncServer(ctx, ev.Server), "server", ev.Server)
		g.desktopChanged(ctx)
	}
}

func (g *Gateway) desktopChanged(ctx context.Context) {
	err := g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: DesktopURI})
	g.logError("notify desktop update", err)
}

func (g *Gateway) makeToolHandler(t target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Errorf("mcpgateway: decode arguments for %q: %w", t.Exposed, err)), nil
			}
		}
		res, err := g.computer.ExecuteTool(ctx, computer.ExecuteRequest{Tool: t.Exposed, Params: args})
		if err != nil {
			return errorResult(err), nil
		}
		return res, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (g *Gateway) makePromptHandler(t target) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.computer.Manager().GetPrompt(ctx, t.Server, t.Native, args)
	}
}

func (g *Gateway) makeResourceHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.computer.Manager().ReadResource(ctx, t.Server, t.Native)
		if err != nil {
			return nil, err
		}
		out := *res
		out.Contents = make([]*mcp.ResourceContents, 0, len(res.Contents))
		for _, content := range res.Contents {
			if content == nil {
				continue
			}
			c := *content
			if c.URI == t.Native || c.URI == "" {
				c.URI = t.Exposed
			}
			out.Contents = append(out.Contents, &c)
		}
		return &out, nil
	}
}

func (g *Gateway) readDesktop(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	d := g.computer.GetDesktop(ctx, computer.DesktopRequest{})
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: encode desktop: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
		URI:      DesktopURI,
		MIMEType: "application/json",
		Text:     string(body),
	}}}, nil
}

func (g *Gateway) knownResource(uri string) bool {
	if uri == DesktopURI {
		return true
	}
	_, ok := g.features.ResourceTarget(uri)
	return ok
}

func (g *Gateway) handleSubscribe(_ context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing subscribe params")
	}
	if !g.knownResource(req.Params.URI) {
		return fmt.Errorf("mcpgateway: unknown resource %q", req.Params.URI)
	}
	return nil
}

func (g *Gateway) handleUnsubscribe(_ context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing unsubscribe params")
	}
	if !g.knownResource(req.Params.URI) {
		return fmt.Errorf("mcpgateway: unknown resource %q", req.Params.URI)
	}
	return nil
}

func (g *Gateway) forwardResourceUpdate(ctx context.Context, server string, req *mcp.ResourceUpdatedNotificationRequest) {
	if g.closed.Load() || req == nil || req.Params == nil {
		return
	}
	gatewayURI, ok := g.features.ExposedResource(server, req.Params.URI)
	if !ok {
		return
	}
	params := *req.Params
	params.URI = gatewayURI
	g.logError("forward resource update", g.server.ResourceUpdated(ctx, &params), "server", server)
}

func (g *Gateway) mountHandler() *http.ServeMux {
	mux := http.NewServeMux()
	endpoint := "/" + strings.Trim(g.opts.Path, "/")
	mux.Handle(endpoint, g.streamHandler)
	if endpoint != "/" {
		mux.Handle(endpoint+"/", g.streamHandler)
	}
	return mux
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
