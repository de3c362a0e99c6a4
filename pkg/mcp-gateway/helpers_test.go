package mcpgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/a2c-computer-go/internal/fixture"
	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// httpFixture serves a fixture server over Streamable HTTP for the duration
// of the test.
func httpFixture(t *testing.T, o fixture.Options) *mcpmgr.HTTPServerConfig {
	t.Helper()
	server := fixture.NewServer(o)
	ts := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	t.Cleanup(ts.Close)
	return &mcpmgr.HTTPServerConfig{
		BaseServerConfig: mcpmgr.BaseServerConfig{Name: o.Name, Timeout: 10 * time.Second},
		URL:              ts.URL,
	}
}

func newComputer(t *testing.T, servers ...mcpmgr.ServerConfig) *computer.Computer {
	t.Helper()
	c, err := computer.New(&computer.Options{Name: "desk-1", Servers: servers, AutoConnect: true})
	if err != nil {
		t.Fatalf("computer.New: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func connectGateway(t *testing.T, ctx context.Context, g *Gateway) *mcp.ClientSession {
	t.Helper()
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   srv.URL + g.opts.Path,
		HTTPClient: srv.Client(),
	}, nil)
	if err != nil {
		t.Fatalf("connect gateway: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if text, ok := res.Content[0].(*mcp.TextContent); ok {
		return text.Text
	}
	return ""
}
