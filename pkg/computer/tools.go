package computer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/a2c-computer-go/pkg/history"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// Tool is a tool as the Computer exposes it: under its effective name (the
// alias when one is configured) and tagged with the server that owns it.
type Tool struct {
	Name         string          `json:"name"`
	Server       string          `json:"server"`
	OriginalName string          `json:"original_name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  any             `json:"input_schema,omitempty"`
	Meta         mcpmgr.ToolMeta `json:"meta"`
	// Tool is the upstream definition.
	Tool *mcp.Tool `json:"-"`
}

// NeedsConfirmation reports whether calls must be confirmed first.
func (t Tool) NeedsConfirmation() bool {
	return t.Meta.AutoApply != nil && !*t.Meta.AutoApply
}

// ToolList is the result of ListTools. Errors holds per-server listing
// failures and name conflicts; the tools of healthy servers are still
// returned.
type ToolList struct {
	Tools  []Tool
	Errors map[string]error
}

// Err joins the per-server errors, or returns nil.
func (l ToolList) Err() error {
	return mcpmgr.Aggregate[Tool]{Errors: l.Errors}.Err()
}

// ConfirmRequest describes a call awaiting confirmation.
type ConfirmRequest struct {
	ReqID      string
	Server     string
	Tool       string
	Parameters map[string]any
}

// ConfirmFunc approves or declines a call to a tool with auto_apply false.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

// CallRequest addresses a tool by server and upstream name.
type CallRequest struct {
	// ReqID correlates the call with its history record. Generated when
	// empty.
	ReqID  string
	Server string
	Tool   string
	Params map[string]any
	// Timeout bounds the call. Zero uses the server's timeout.
	Timeout time.Duration
}

// ExecuteRequest addresses a tool by its effective name.
type ExecuteRequest struct {
	ReqID   string
	Tool    string
	Params  map[string]any
	Timeout time.Duration
}

type toolCache struct {
	mu     sync.Mutex
	valid  bool
	list   ToolList
	byName map[string]Tool
}

func (tc *toolCache) invalidate() {
	tc.mu.Lock()
	tc.valid = false
	tc.mu.Unlock()
}

func (tc *toolCache) get() (ToolList, map[string]Tool, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.list, tc.byName, tc.valid
}

func (tc *toolCache) store(list ToolList, byName map[string]Tool) {
	tc.mu.Lock()
	tc.list, tc.byName, tc.valid = list, byName, true
	tc.mu.Unlock()
}

// ListTools lists the tools of every active server. Forbidden tools are
// hidden. When two servers expose the same effective name, the server first
// in name order keeps it and the other gets an ErrToolConflict entry.
func (c *Computer) ListTools(ctx context.Context) ToolList {
	list, _ := c.refreshTools(ctx)
	return list
}

func (c *Computer) refreshTools(ctx context.Context) (ToolList, map[string]Tool) {
	agg := c.manager.ListToolsAggregated(ctx)
	list := ToolList{Errors: agg.Errors}
	byName := make(map[string]Tool)
	for _, item := range agg.Items {
		cfg := c.manager.GetServerConfig(item.Server)
		if cfg == nil || item.Item == nil {
			continue
		}
		if forbidden(mcpmgr.BaseOf(cfg).ForbiddenTools, item.Item.Name) {
			continue
		}
		meta := mcpmgr.EffectiveToolMeta(cfg, item.Item.Name)
		name := item.Item.Name
		if meta.Alias != "" {
			name = meta.Alias
		}
		if owner, dup := byName[name]; dup {
			conflict := fmt.Errorf("%w: %q is already provided by %q", ErrToolConflict, name, owner.Server)
			list.Errors[item.Server] = errors.Join(list.Errors[item.Server], conflict)
			continue
		}
		tool := Tool{
			Name:         name,
			Server:       item.Server,
			OriginalName: item.Item.Name,
			Description:  item.Item.Description,
			InputSchema:  item.Item.InputSchema,
			Meta:         meta,
			Tool:         item.Item,
		}
		byName[name] = tool
		list.Tools = append(list.Tools, tool)
	}
	for server, err := range agg.Errors {
		if !errors.Is(err, ErrToolConflict) {
			c.log.Warn("tool listing failed", slog.String("server", server), slog.Any("error", err))
		}
	}
	c.tools.store(list, byName)
	return list, byName
}

func (c *Computer) lookupTool(ctx context.Context, name string) (Tool, bool) {
	if _, byName, ok := c.tools.get(); ok {
		if t, found := byName[name]; found {
			return t, true
		}
	}
	_, byName := c.refreshTools(ctx)
	t, found := byName[name]
	return t, found
}

func forbidden(patterns []string, tool string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, tool)
		if err != nil {
			ok = pattern == tool
		}
		if ok {
			return true
		}
	}
	return false
}

// ExecuteTool calls a tool by its effective name. An unknown name is
// recorded in the history like any other failed call.
func (c *Computer) ExecuteTool(ctx context.Context, req ExecuteRequest) (*mcp.CallToolResult, error) {
	tool, ok := c.lookupTool(ctx, req.Tool)
	if !ok {
		call := CallRequest{ReqID: req.ReqID, Tool: req.Tool, Params: req.Params, Timeout: req.Timeout}
		return c.record(call, nil, fmt.Errorf("%w: %q", ErrToolNotFound, req.Tool))
	}
	return c.CallTool(ctx, CallRequest{
		ReqID:   req.ReqID,
		Server:  tool.Server,
		Tool:    tool.OriginalName,
		Params:  req.Params,
		Timeout: req.Timeout,
	})
}

// CallTool calls a tool by server and upstream name. Exactly one history
// record is appended per call, whatever the outcome. A provider-reported
// tool failure is returned as a result with IsError set, not as an error.
func (c *Computer) CallTool(ctx context.Context, req CallRequest) (*mcp.CallToolResult, error) {
	if req.ReqID == "" {
		req.ReqID = uuid.NewString()
	}
	if c.isClosed() {
		return c.record(req, nil, ErrClosed)
	}
	cfg := c.manager.GetServerConfig(req.Server)
	if cfg == nil {
		return c.record(req, nil, fmt.Errorf("%w: %q", mcpmgr.ErrServerNotFound, req.Server))
	}
	if forbidden(mcpmgr.BaseOf(cfg).ForbiddenTools, req.Tool) {
		return c.record(req, nil, fmt.Errorf("%w: %q on %q", ErrToolForbidden, req.Tool, req.Server))
	}
	meta := mcpmgr.EffectiveToolMeta(cfg, req.Tool)
	if meta.AutoApply != nil && !*meta.AutoApply {
		if err := c.confirm(ctx, req); err != nil {
			return c.record(req, nil, err)
		}
	}
	res, err := c.manager.CallTool(ctx, req.Server, req.Tool, req.Params, req.Timeout)
	return c.record(req, res, err)
}

func (c *Computer) confirm(ctx context.Context, req CallRequest) error {
	if c.opts.Confirm == nil {
		return fmt.Errorf("%w: %q on %q", ErrConfirmationRequired, req.Tool, req.Server)
	}
	ok, err := c.opts.Confirm(ctx, ConfirmRequest{
		ReqID:      req.ReqID,
		Server:     req.Server,
		Tool:       req.Tool,
		Parameters: req.Params,
	})
	if err != nil {
		return fmt.Errorf("computer: confirm %q: %w", req.Tool, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q on %q", ErrConfirmationDeclined, req.Tool, req.Server)
	}
	return nil
}

func (c *Computer) record(req CallRequest, res *mcp.CallToolResult, err error) (*mcp.CallToolResult, error) {
	if req.ReqID == "" {
		req.ReqID = uuid.NewString()
	}
	rec := history.Record{
		ReqID:      req.ReqID,
		Server:     req.Server,
		Tool:       req.Tool,
		Parameters: req.Params,
		Timeout:    req.Timeout,
		Success:    err == nil && res != nil && !res.IsError,
	}
	switch {
	case err != nil:
		rec.Error = err.Error()
	case res == nil:
		rec.Error = "empty result"
	case res.IsError:
		rec.Error = resultText(res)
	}
	c.history.Append(rec)
	if !rec.Success {
		c.log.Debug("tool call failed",
			slog.String("req_id", rec.ReqID), slog.String("server", rec.Server),
			slog.String("tool", rec.Tool), slog.String("error", rec.Error))
	}
	return res, err
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
