package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
	mcpgateway "github.com/vikashloomba/a2c-computer-go/pkg/mcp-gateway"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

func main() {
	command := os.Getenv("MCP_SERVER_COMMAND")
	if command == "" {
		command = "npx @modelcontextprotocol/server-everything"
	}
	fields := strings.Fields(command)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &computer.Options{
		Name: "computer-example",
		Servers: []mcpmgr.ServerConfig{&mcpmgr.StdioServerConfig{
			BaseServerConfig: mcpmgr.BaseServerConfig{Name: "everything", Timeout: 15 * time.Second},
			Command:          fields[0],
			Args:             fields[1:],
			Env:              map[string]string{"LOG_LEVEL": "${input:log_level}"},
		}},
		Inputs: []inputs.Definition{{
			ID:      "log_level",
			Type:    inputs.TypePickString,
			Options: []string{"debug", "info"},
			Default: "info",
		}},
		AutoConnect:   true,
		AutoReconnect: true,
	}

	err := computer.Run(ctx, opts, func(ctx context.Context, c *computer.Computer) error {
		list := c.ListTools(ctx)
		for _, tool := range list.Tools {
			log.Printf("tool %s (server %s)", tool.Name, tool.Server)
		}
		if err := list.Err(); err != nil {
			log.Printf("some servers could not list tools: %v", err)
		}

		gateway, err := mcpgateway.NewGateway(c, &mcpgateway.Options{
			Addr: ":8787",
			Path: "/mcp",
			Streamable: mcp.StreamableHTTPOptions{
				JSONResponse: true,
			},
		})
		if err != nil {
			return err
		}
		defer gateway.Close()
		log.Printf("gateway serving Streamable MCP on :8787/mcp")
		return gateway.ListenAndServe(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("computer stopped: %v", err)
	}
}
