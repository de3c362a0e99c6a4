package computer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/a2c-computer-go/pkg/desktop"
)

// DesktopRequest selects what GetDesktop returns.
type DesktopRequest struct {
	// Size caps the number of windows. Nil means no cap; zero or less
	// returns no windows.
	Size *int `json:"size,omitempty"`
	// WindowURI restricts the desktop to one window.
	WindowURI string `json:"window_uri,omitempty"`
}

// DesktopError records a server or window that could not be read.
type DesktopError struct {
	Server string `json:"server"`
	URI    string `json:"uri,omitempty"`
	Error  string `json:"error"`
}

// Desktop is the arranged set of windows plus whatever failed on the way.
type Desktop struct {
	Windows []desktop.Window `json:"windows"`
	Errors  []DesktopError   `json:"errors,omitempty"`
}

type windowRead struct {
	server   string
	resource *mcp.Resource
	window   desktop.Window
	err      error
}

// GetDesktop reads every window:// resource of the active servers and
// arranges them with desktop.Organize, favoring servers used most recently.
// Listing and read failures are reported in Desktop.Errors and never fail
// the whole call.
func (c *Computer) GetDesktop(ctx context.Context, req DesktopRequest) Desktop {
	var out Desktop
	agg := c.manager.ListResourcesAggregated(ctx)
	for _, server := range sortedKeys(agg.Errors) {
		out.Errors = append(out.Errors, DesktopError{Server: server, Error: agg.Errors[server].Error()})
		c.log.Warn("desktop resource listing failed", slog.String("server", server), slog.Any("error", agg.Errors[server]))
	}
	if req.Size != nil && *req.Size <= 0 {
		return out
	}

	var reads []*windowRead
	for _, item := range agg.Items {
		if item.Item == nil || !desktop.IsWindowURI(item.Item.URI) {
			continue
		}
		if req.WindowURI != "" && item.Item.URI != req.WindowURI {
			continue
		}
		reads = append(reads, &windowRead{server: item.Server, resource: item.Item})
	}

	var g errgroup.Group
	if limit := c.opts.Manager.Concurrency; limit > 0 {
		g.SetLimit(limit)
	}
	for _, r := range reads {
		g.Go(func() error {
			r.window, r.err = c.readWindow(ctx, r.server, r.resource)
			return nil
		})
	}
	_ = g.Wait()

	var windows []desktop.Window
	for _, r := range reads {
		if r.err != nil {
			out.Errors = append(out.Errors, DesktopError{Server: r.server, URI: r.resource.URI, Error: r.err.Error()})
			c.log.Warn("window read failed", slog.String("server", r.server),
				slog.String("uri", r.resource.URI), slog.Any("error", r.err))
			continue
		}
		windows = append(windows, r.window)
	}
	size := 0
	if req.Size != nil {
		size = *req.Size
	}
	out.Windows = desktop.Organize(windows, size, c.history.RecentServers())
	return out
}

func (c *Computer) readWindow(ctx context.Context, server string, res *mcp.Resource) (desktop.Window, error) {
	result, err := c.manager.ReadResource(ctx, server, res.URI)
	if err != nil {
		return desktop.Window{}, err
	}
	var parts []string
	for _, content := range result.Contents {
		if content != nil && content.Text != "" {
			parts = append(parts, content.Text)
		}
	}
	return desktop.NewWindow(server, res.URI, res.Name, strings.Join(parts, "\n"))
}
