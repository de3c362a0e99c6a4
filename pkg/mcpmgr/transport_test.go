package mcpmgr

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestBuildStdioTransportAppliesEnvAndCwd(t *testing.T) {
	t.Parallel()

	cfg := &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Name: "stdio-example"},
		Command:          "npx",
		Args:             []string{"@modelcontextprotocol/server-everything"},
		Env:              map[string]string{"MCP_SERVER_MODE": "stdio"},
		Cwd:              "/tmp",
	}

	transport, err := buildStdioTransport(cfg)
	if err != nil {
		t.Fatalf("buildStdioTransport error: %v", err)
	}

	expectedArgs := append([]string{cfg.Command}, cfg.Args...)
	if !reflect.DeepEqual(transport.Command.Args, expectedArgs) {
		t.Fatalf("command args = %v, expected %v", transport.Command.Args, expectedArgs)
	}
	if !envContains(transport.Command.Env, "MCP_SERVER_MODE", "stdio") {
		t.Fatalf("env missing MCP_SERVER_MODE from stdio config")
	}
	if transport.Command.Dir != "/tmp" {
		t.Fatalf("cwd = %q, expected /tmp", transport.Command.Dir)
	}
}

func TestBuildStdioTransportInheritsEnvWhenUnset(t *testing.T) {
	t.Parallel()

	transport, err := buildStdioTransport(&StdioServerConfig{BaseServerConfig: BaseServerConfig{Name: "x"}, Command: "srv"})
	if err != nil {
		t.Fatalf("buildStdioTransport error: %v", err)
	}
	if transport.Command.Env != nil {
		t.Fatalf("expected nil env to inherit the parent environment, got %d entries", len(transport.Command.Env))
	}
	if _, err := buildStdioTransport(&StdioServerConfig{BaseServerConfig: BaseServerConfig{Name: "x"}}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestDecorateHTTPClientAddsHeaders(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-MCP-Source"); got != "manager-tests" {
			t.Fatalf("decorated header missing, got %q", got)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer example-token" {
			t.Fatalf("auth header mismatch, got %q", got)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	decorated := decorateHTTPClient(&http.Client{Transport: rt}, map[string]string{
		"X-MCP-Source":  "manager-tests",
		"Authorization": "Bearer example-token",
	})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.invalid/mcp", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := decorated.Do(req)
	if err != nil {
		t.Fatalf("decorated client Do error: %v", err)
	}
	_ = resp.Body.Close()
	if req.Header.Get("X-MCP-Source") != "" {
		t.Fatalf("decorator mutated the caller's request")
	}
}

func TestDecorateHTTPClientWithoutHeadersReturnsBase(t *testing.T) {
	t.Parallel()

	base := &http.Client{}
	if got := decorateHTTPClient(base, nil); got != base {
		t.Fatalf("expected the base client when no headers are configured")
	}
}

func TestShouldPreferSSEHeuristic(t *testing.T) {
	t.Parallel()

	if shouldPreferSSE(&HTTPServerConfig{URL: "https://example.com/mcp"}) {
		t.Fatalf("did not expect SSE preference for non-sse endpoint")
	}
	if !shouldPreferSSE(&HTTPServerConfig{URL: "https://example.com/sse"}) {
		t.Fatalf("expected SSE preference for /sse endpoint")
	}
	override := true
	if !shouldPreferSSE(&HTTPServerConfig{URL: "https://example.com/mcp", PreferSSE: &override}) {
		t.Fatalf("explicit PreferSSE=true should win")
	}
}

func TestBuildHTTPTransportsOrder(t *testing.T) {
	t.Parallel()

	transports, err := buildHTTPTransports(nil, &HTTPServerConfig{BaseServerConfig: BaseServerConfig{Name: "w"}, URL: "https://example.com/sse"})
	if err != nil {
		t.Fatalf("buildHTTPTransports: %v", err)
	}
	if len(transports) != 2 {
		t.Fatalf("expected two transports, got %d", len(transports))
	}
	if _, ok := transports[0].(*mcp.SSEClientTransport); !ok {
		t.Fatalf("expected SSE first for /sse endpoint, got %T", transports[0])
	}
	if _, ok := transports[1].(*mcp.StreamableClientTransport); !ok {
		t.Fatalf("expected streamable second, got %T", transports[1])
	}
}

func TestIsMethodUnavailableError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want bool
	}{
		{"calling \"tools/list\": Method not found", true},
		{"resources not implemented", false},
		{"tools/list not implemented", true},
		{"connection reset by peer", false},
		{"tools unsupported", true},
		{"prompts unsupported", false},
	}
	for _, tc := range cases {
		if got := isMethodUnavailableError(errString(tc.msg), "tools/list"); got != tc.want {
			t.Errorf("isMethodUnavailableError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
	if isMethodUnavailableError(nil, "tools/list") {
		t.Fatalf("nil error must not be unavailable")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
