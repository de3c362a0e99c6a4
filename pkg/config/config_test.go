package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

const sample = `
name: desk-1
auto_connect: false
reconnect:
  max_attempts: 5
  delay: 500ms
history_size: 25
history_db: data/history.db
gateway:
  addr: ":8700"
  cors_origins: ["https://agent.example"]
servers:
  - name: files
    type: stdio
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "${input:root}"]
    env:
      TOKEN: "${input:token}"
    timeout: 45
    forbidden_tools: ["write_*"]
    tool_meta:
      read_file:
        alias: cat
        auto_apply: false
    default_tool_meta:
      tags: [fs]
  - name: remote
    type: sse
    url: https://example.com/mcp
    headers:
      Authorization: "Bearer ${input:token}"
    timeout: 1m
  - name: stream
    type: streamable-http
    url: https://example.com/stream
    disabled: true
inputs:
  - id: token
    type: promptString
    password: true
  - id: root
    type: pickString
    options: [/tmp, /srv]
    default: /tmp
`

func TestParseSample(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "desk-1", f.Name)
	assert.False(t, f.AutoConnectOrDefault())
	assert.True(t, f.AutoReconnectOrDefault())
	assert.Equal(t, mcpmgr.ReconnectPolicy{MaxAttempts: 5, Delay: 500 * time.Millisecond, Multiplier: 1, MaxDelay: 30 * time.Second}, f.ReconnectPolicy())
	assert.Equal(t, []string{"https://agent.example"}, f.Gateway.CORSOrigins)

	servers, err := f.ServerConfigs()
	require.NoError(t, err)
	require.Len(t, servers, 3)

	files, ok := mcpmgr.AsStdio(servers[0])
	require.True(t, ok)
	assert.Equal(t, "npx", files.Command)
	assert.Equal(t, "${input:token}", files.Env["TOKEN"])
	assert.Equal(t, 45*time.Second, files.Timeout)
	assert.Equal(t, []string{"write_*"}, files.ForbiddenTools)
	meta := mcpmgr.EffectiveToolMeta(files, "read_file")
	assert.Equal(t, "cat", meta.Alias)
	require.NotNil(t, meta.AutoApply)
	assert.False(t, *meta.AutoApply)
	assert.Equal(t, []string{"fs"}, meta.Tags)

	remote, ok := mcpmgr.AsHTTP(servers[1])
	require.True(t, ok)
	require.NotNil(t, remote.PreferSSE)
	assert.True(t, *remote.PreferSSE)
	assert.Equal(t, time.Minute, remote.Timeout)

	stream, ok := mcpmgr.AsHTTP(servers[2])
	require.True(t, ok)
	assert.Nil(t, stream.PreferSSE)
	assert.True(t, stream.Disabled)

	defs := f.InputDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, inputs.TypePickString, defs[1].Type)
	assert.Equal(t, "/tmp", defs[1].Default)

	opts, err := f.ComputerOptions()
	require.NoError(t, err)
	assert.Equal(t, "desk-1", opts.Name)
	assert.False(t, opts.AutoConnect)
	assert.True(t, opts.AutoReconnect)
	require.NotNil(t, opts.HistorySize)
	assert.Equal(t, 25, *opts.HistorySize)
	assert.Len(t, opts.Servers, 3)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "servers:\n  - name: a\n    type: stdio\n    command: x\n    comand: typo\n",
		"unknown type":    "servers:\n  - name: a\n    type: websocket\n    url: ws://x\n",
		"missing command": "servers:\n  - name: a\n    type: stdio\n",
		"duplicate":       "servers:\n  - {name: a, type: stdio, command: x}\n  - {name: a, type: stdio, command: y}\n",
		"url on stdio":    "servers:\n  - {name: a, type: stdio, command: x, url: http://x}\n",
		"bad input":       "inputs:\n  - {id: x, type: pickString}\n",
		"bad duration":    "servers:\n  - {name: a, type: stdio, command: x, timeout: soon}\n",
		"negative size":   "history_size: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	f, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, f.AutoConnectOrDefault())
}

func TestLoadResolvesHistoryPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "computer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "history.db"), f.HistoryPath())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSchemaDescribesServers(t *testing.T) {
	raw, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "servers")
	assert.Contains(t, props, "auto_connect")
	assert.Contains(t, string(raw), "streamable-http")
	assert.Contains(t, string(raw), "Go duration string or seconds")

	reconnect, ok := props["reconnect"].(map[string]any)
	require.True(t, ok)
	delay, ok := reconnect["properties"].(map[string]any)["delay"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Go duration string or seconds", delay["description"])
	assert.Contains(t, delay, "oneOf")
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "computer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: before\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		f   *File
		err error
	}
	results := make(chan result, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(f *File, err error) { results <- result{f, err} })
	}()

	// give the watcher time to register before writing
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("name: after\n"), 0o600); err != nil {
			return false
		}
		select {
		case r := <-results:
			return r.err == nil && r.f.Name == "after"
		case <-time.After(time.Second):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("servers: [oops\n"), 0o600))
	deadline := time.After(5 * time.Second)
	for invalid := false; !invalid; {
		select {
		case r := <-results:
			// earlier writes may still be draining
			invalid = r.err != nil
			if invalid {
				assert.ErrorIs(t, r.err, ErrInvalid)
			}
		case <-deadline:
			t.Fatal("no reload after invalid write")
		}
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
