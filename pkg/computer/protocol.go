package computer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCallRequest is a remote agent's tools/call, addressed to this computer.
type ToolCallRequest struct {
	ReqID    string         `json:"req_id"`
	Computer string         `json:"computer"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params,omitempty"`
	// Timeout is in seconds; zero uses the server's timeout.
	Timeout float64 `json:"timeout,omitempty"`
}

// ToolCallResponse answers a ToolCallRequest.
type ToolCallResponse struct {
	ReqID   string              `json:"req_id"`
	Success bool                `json:"success"`
	Result  *mcp.CallToolResult `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// ListToolsRequest asks for the computer's tool namespace.
type ListToolsRequest struct {
	ReqID    string `json:"req_id"`
	Computer string `json:"computer"`
}

// ListToolsResponse answers a ListToolsRequest.
type ListToolsResponse struct {
	ReqID   string            `json:"req_id"`
	Success bool              `json:"success"`
	Tools   []Tool            `json:"tools"`
	Errors  map[string]string `json:"errors,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// GetDesktopRequest asks for the computer's desktop.
type GetDesktopRequest struct {
	ReqID    string `json:"req_id"`
	Computer string `json:"computer"`
	DesktopRequest
}

// GetDesktopResponse answers a GetDesktopRequest.
type GetDesktopResponse struct {
	ReqID   string `json:"req_id"`
	Success bool   `json:"success"`
	Desktop
	Error string `json:"error,omitempty"`
}

func (c *Computer) checkAddressee(computer string) error {
	if computer != "" && computer != c.name {
		return fmt.Errorf("computer: request addressed to %q, this is %q", computer, c.name)
	}
	return nil
}

// HandleToolCall executes a remote tool call. Failures are reported in the
// response, never as a Go error.
func (c *Computer) HandleToolCall(ctx context.Context, req ToolCallRequest) ToolCallResponse {
	resp := ToolCallResponse{ReqID: req.ReqID}
	if err := c.checkAddressee(req.Computer); err != nil {
		resp.Error = err.Error()
		return resp
	}
	res, err := c.ExecuteTool(ctx, ExecuteRequest{
		ReqID:   req.ReqID,
		Tool:    req.ToolName,
		Params:  req.Params,
		Timeout: time.Duration(req.Timeout * float64(time.Second)),
	})
	resp.Result = res
	switch {
	case err != nil:
		resp.Error = err.Error()
	case res != nil && res.IsError:
		resp.Error = resultText(res)
	default:
		resp.Success = res != nil
	}
	return resp
}

// HandleListTools lists tools for a remote agent. Per-server failures are
// reported next to the tools of the healthy servers.
func (c *Computer) HandleListTools(ctx context.Context, req ListToolsRequest) ListToolsResponse {
	resp := ListToolsResponse{ReqID: req.ReqID, Tools: []Tool{}}
	if err := c.checkAddressee(req.Computer); err != nil {
		resp.Error = err.Error()
		return resp
	}
	list := c.ListTools(ctx)
	if list.Tools != nil {
		resp.Tools = list.Tools
	}
	if len(list.Errors) > 0 {
		resp.Errors = make(map[string]string, len(list.Errors))
		for server, err := range list.Errors {
			resp.Errors[server] = err.Error()
		}
	}
	resp.Success = true
	return resp
}

// HandleGetDesktop returns the desktop for a remote agent.
func (c *Computer) HandleGetDesktop(ctx context.Context, req GetDesktopRequest) GetDesktopResponse {
	resp := GetDesktopResponse{ReqID: req.ReqID}
	if err := c.checkAddressee(req.Computer); err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Desktop = c.GetDesktop(ctx, req.DesktopRequest)
	resp.Success = true
	return resp
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
