package computer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/a2c-computer-go/internal/fixture"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

func TestProtocolHandlers(t *testing.T) {
	skipShort(t)
	ctx := testContext(t)
	c := newStarted(t, &Options{
		Name: "desk-1",
		Servers: []mcpmgr.ServerConfig{
			fixtureServer("srv", fixture.Options{Windows: []string{"window://srv/main"}}),
		},
		AutoConnect: true,
	})

	resp := c.HandleToolCall(ctx, ToolCallRequest{ReqID: "q1", Computer: "desk-1", ToolName: "hello", Params: map[string]any{"name": "Agent"}, Timeout: 5})
	assert.Equal(t, "q1", resp.ReqID)
	assert.True(t, resp.Success)
	assert.Equal(t, "Hello, Agent!", textOf(t, resp.Result))
	assert.Equal(t, "q1", c.History().Recent(1)[0].ReqID)

	resp = c.HandleToolCall(ctx, ToolCallRequest{ReqID: "q2", ToolName: "fail", Params: map[string]any{"text": "x"}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "boom")

	resp = c.HandleToolCall(ctx, ToolCallRequest{ReqID: "q3", Computer: "someone-else", ToolName: "hello"})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 2, c.History().Len(), "misaddressed requests are not tool calls")

	list := c.HandleListTools(ctx, ListToolsRequest{ReqID: "q4"})
	assert.True(t, list.Success)
	assert.Equal(t, "q4", list.ReqID)
	assert.NotEmpty(t, list.Tools)

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"req_id":"q4"`)
	assert.Contains(t, string(raw), `"server":"srv"`)

	desk := c.HandleGetDesktop(ctx, GetDesktopRequest{ReqID: "q5", Computer: "desk-1"})
	assert.True(t, desk.Success)
	require.Len(t, desk.Windows, 1)
	assert.Equal(t, "window://srv/main", desk.Windows[0].URI)
}
