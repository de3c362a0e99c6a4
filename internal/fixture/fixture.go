// Package fixture builds small MCP servers for tests. The same server can run
// in-process over in-memory or HTTP transports, or as a child process: a test
// binary whose TestMain calls RunIfServer turns into a stdio MCP server when
// launched with the environment from Options.Env.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Environment variables understood by a re-executed test binary.
const (
	EnvServer   = "A2C_FIXTURE_SERVER"
	EnvGreeting = "GREETING"
	EnvTools    = "A2C_FIXTURE_TOOLS"
	EnvWindows  = "A2C_FIXTURE_WINDOWS"
	EnvPageSize = "A2C_FIXTURE_PAGE_SIZE"
	EnvToolFile = "A2C_FIXTURE_TOOL_FILE"
)

// BrokenWindow is a window URI whose read always fails.
const BrokenWindow = "window://fixture/broken"

// Options shapes the fixture server.
type Options struct {
	// Name is reported as the server implementation name and prefixes the
	// output of extra tools.
	Name string
	// Greeting replaces "Hello" in the hello tool.
	Greeting string
	// ExtraTools registers tools that answer "<name>:<tool>".
	ExtraTools []string
	// Windows registers text resources. BrokenWindow fails on read.
	Windows []string
	// PageSize limits list page sizes.
	PageSize int
	// AllowCrash registers a "crash" tool that exits the process.
	AllowCrash bool
	// ToolFile names a file of extra tools, one per line, read when the
	// server is built. A relaunched process picks up the current contents.
	ToolFile string
}

// Env encodes o for a re-executed test binary.
func (o Options) Env() map[string]string {
	env := map[string]string{EnvServer: o.Name}
	if o.Greeting != "" {
		env[EnvGreeting] = o.Greeting
	}
	if len(o.ExtraTools) > 0 {
		env[EnvTools] = strings.Join(o.ExtraTools, ",")
	}
	if len(o.Windows) > 0 {
		env[EnvWindows] = strings.Join(o.Windows, ",")
	}
	if o.PageSize > 0 {
		env[EnvPageSize] = strconv.Itoa(o.PageSize)
	}
	if o.ToolFile != "" {
		env[EnvToolFile] = o.ToolFile
	}
	return env
}

// OptionsFromEnv decodes what Env produced.
func OptionsFromEnv() Options {
	o := Options{
		Name:       os.Getenv(EnvServer),
		Greeting:   os.Getenv(EnvGreeting),
		AllowCrash: true,
		ToolFile:   os.Getenv(EnvToolFile),
	}
	if v := os.Getenv(EnvTools); v != "" {
		o.ExtraTools = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvWindows); v != "" {
		o.Windows = strings.Split(v, ",")
	}
	if v, err := strconv.Atoi(os.Getenv(EnvPageSize)); err == nil {
		o.PageSize = v
	}
	return o
}

// Command returns the program and arguments that relaunch the running test
// binary. Run it with Options.Env merged into its environment.
func Command() (string, []string) {
	return os.Args[0], []string{"-test.run=^$"}
}

// RunIfServer serves MCP over stdio and exits when the process was launched
// as a fixture. Otherwise it returns immediately.
func RunIfServer() {
	if os.Getenv(EnvServer) == "" {
		return
	}
	server := NewServer(OptionsFromEnv())
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintln(os.Stderr, "fixture:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

type helloArgs struct {
	Name string `json:"name,omitempty"`
}

type echoArgs struct {
	Text string `json:"text"`
}

type sleepArgs struct {
	Millis int `json:"millis"`
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

// NewServer builds the fixture server described by o.
func NewServer(o Options) *mcp.Server {
	name := o.Name
	if name == "" {
		name = "fixture"
	}
	greeting := o.Greeting
	if greeting == "" {
		greeting = "Hello"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, &mcp.ServerOptions{PageSize: o.PageSize})

	mcp.AddTool(server, &mcp.Tool{Name: "hello", Description: "Greets someone"},
		func(_ context.Context, _ *mcp.CallToolRequest, in helloArgs) (*mcp.CallToolResult, any, error) {
			who := in.Name
			if who == "" {
				who = "World"
			}
			return text(fmt.Sprintf("%s, %s!", greeting, who)), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Repeats text"},
		func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return text(in.Text), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always fails"},
		func(context.Context, *mcp.CallToolRequest, echoArgs) (*mcp.CallToolResult, any, error) {
			return nil, nil, errors.New("boom")
		})
	mcp.AddTool(server, &mcp.Tool{Name: "sleep", Description: "Sleeps"},
		func(ctx context.Context, _ *mcp.CallToolRequest, in sleepArgs) (*mcp.CallToolResult, any, error) {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(in.Millis) * time.Millisecond):
				return text("slept"), nil, nil
			}
		})
	if o.AllowCrash {
		mcp.AddTool(server, &mcp.Tool{Name: "crash", Description: "Exits the process"},
			func(context.Context, *mcp.CallToolRequest, echoArgs) (*mcp.CallToolResult, any, error) {
				os.Exit(3)
				return nil, nil, nil
			})
	}
	for _, tool := range append(slices.Clone(o.ExtraTools), readToolFile(o.ToolFile)...) {
		answer := name + ":" + tool
		mcp.AddTool(server, &mcp.Tool{Name: tool, Description: "Extra tool " + tool},
			func(context.Context, *mcp.CallToolRequest, helloArgs) (*mcp.CallToolResult, any, error) {
				return text(answer), nil, nil
			})
	}
	for _, uri := range slices.Sorted(slices.Values(o.Windows)) {
		AddWindow(server, uri)
	}
	return server
}

// AddWindow registers a text resource at uri whose contents are
// "content of <uri>". BrokenWindow always fails.
func AddWindow(server *mcp.Server, uri string) {
	server.AddResource(&mcp.Resource{URI: uri, Name: uri, MIMEType: "text/plain"},
		func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			if req.Params.URI == BrokenWindow {
				return nil, errors.New("window unavailable")
			}
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     "content of " + req.Params.URI,
			}}}, nil
		})
}

// Connect starts server on one end of an in-memory pipe and returns the
// other end for a client.
func Connect(ctx context.Context, server *mcp.Server) (mcp.Transport, *mcp.ServerSession, error) {
	clientT, serverT := mcp.NewInMemoryTransports()
	session, err := server.Connect(ctx, serverT, nil)
	if err != nil {
		return nil, nil, err
	}
	return clientT, session, nil
}

func readToolFile(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}
