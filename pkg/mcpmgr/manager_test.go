package mcpmgr

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/a2c-computer-go/internal/fixture"
)

func TestManagerInitialServersAndSummaries(t *testing.T) {
	t.Parallel()

	cfgs := []ServerConfig{
		&StdioServerConfig{
			BaseServerConfig: BaseServerConfig{Name: "stdio-example", Timeout: 5 * time.Second},
			Command:          "npx",
			Args:             []string{"@modelcontextprotocol/server-everything"},
		},
		&HTTPServerConfig{
			BaseServerConfig: BaseServerConfig{Name: "streamable-example", Timeout: 5 * time.Second},
			URL:              "https://gitmcp.io/modelcontextprotocol/go-sdk",
		},
	}
	manager, err := NewManager(cfgs, &ManagerOptions{DefaultClientName: "manager-tests"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	servers := manager.ListServers()
	expected := []string{"stdio-example", "streamable-example"}
	if !reflect.DeepEqual(servers, expected) {
		t.Fatalf("ListServers() = %v, expected %v", servers, expected)
	}
	if !manager.HasServer("stdio-example") || manager.HasServer("nope") {
		t.Fatalf("HasServer mismatch")
	}

	stdioCfg, ok := AsStdio(manager.GetServerConfig("stdio-example"))
	if !ok || stdioCfg.Command != "npx" {
		t.Fatalf("stdio config not preserved: %#v", stdioCfg)
	}
	stdioCfg.Command = "mutated"
	if again, _ := AsStdio(manager.GetServerConfig("stdio-example")); again.Command != "npx" {
		t.Fatalf("GetServerConfig must return a copy")
	}

	summaries := manager.GetServerSummaries()
	if len(summaries) != 2 {
		t.Fatalf("expected two summaries, got %d", len(summaries))
	}
	for _, summary := range summaries {
		if summary.Status != StatusDisconnected {
			t.Fatalf("expected disconnected status for %s, got %s", summary.Name, summary.Status)
		}
		if NameOf(summary.Config) != summary.Name {
			t.Fatalf("summary config attached to wrong name: %s", summary.Name)
		}
	}
}

func TestNewManagerRejectsInvalidConfigs(t *testing.T) {
	t.Parallel()

	_, err := NewManager([]ServerConfig{&StdioServerConfig{BaseServerConfig: BaseServerConfig{Name: "x"}}}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	dup := []ServerConfig{stdioConfig("x", "a"), stdioConfig("x", "b")}
	_, err = NewManager(dup, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManagerRoutingErrors(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()

	_, err := m.CallTool(ctx, "ghost", "hello", nil, 0)
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, err = m.CallTool(ctx, "hello", "hello", nil, 0)
	assert.ErrorIs(t, err, ErrServerNotConnected, "calls never start a connection")
	assert.Zero(t, d.dialCount("hello"))

	require.NoError(t, m.StartClient(ctx, "hello"))
	res, err := m.CallTool(ctx, "hello", "hello", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", textOf(t, res))

	require.NoError(t, m.StopClient(ctx, "hello"))
	require.NoError(t, m.StopClient(ctx, "hello"), "stop is idempotent")
	assert.Nil(t, m.GetClient("hello"))
	_, err = m.CallTool(ctx, "hello", "hello", nil, 0)
	assert.ErrorIs(t, err, ErrServerNotConnected)

	assert.ErrorIs(t, m.StartClient(ctx, "ghost"), ErrServerNotFound)
}

func TestManagerStartDisabledServer(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	cfg := stdioConfig("off", "off")
	cfg.Disabled = true
	m := newTestManager(t, d, nil, cfg)
	assert.ErrorIs(t, m.StartClient(context.Background(), "off"), ErrServerDisabled)
	require.NoError(t, m.StartAll(context.Background()), "StartAll skips disabled servers")
	assert.Zero(t, d.dialCount("off"))
}

func TestManagerStartAllCollectsFailures(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("good", fixture.Options{Name: "good"})
	m := newTestManager(t, d, nil, stdioConfig("good", "good"), stdioConfig("bad", "bad"))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.Equal(t, StatusConnected, m.Status("good"), "one failing server must not block the rest")
	assert.Equal(t, StatusDisconnected, m.Status("bad"))
}

func TestApplyConfigUnchangedAndMetadataOnly(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "hello"))
	before := m.GetClient("hello")

	action, err := m.ApplyConfig(ctx, stdioConfig("hello", "hello"))
	require.NoError(t, err)
	assert.Equal(t, ApplyUnchanged, action)

	updated := stdioConfig("hello", "hello")
	updated.ForbiddenTools = []string{"fail"}
	action, err = m.ApplyConfig(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, ApplyUpdated, action)

	assert.Same(t, before, m.GetClient("hello"), "metadata changes keep the client")
	assert.Equal(t, 1, d.dialCount("hello"), "metadata changes never reconnect")
	assert.Equal(t, []string{"fail"}, BaseOf(m.GetClient("hello").Config()).ForbiddenTools)
	assert.Equal(t, []string{"fail"}, BaseOf(m.GetServerConfig("hello")).ForbiddenTools)
}

func TestApplyConfigVersionChangeReconnects(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "hello"))
	before := m.GetClient("hello")

	updated := stdioConfig("hello", "hello")
	updated.Version = "2.0.0"
	action, err := m.ApplyConfig(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, ApplyRestarted, action)
	assert.NotSame(t, before, m.GetClient("hello"))
	assert.Equal(t, 2, d.dialCount("hello"), "the new version is advertised on a fresh session")
	assert.Equal(t, StatusConnected, m.Status("hello"))
}

func TestApplyConfigAddsWithoutStarting(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	m := newTestManager(t, d, nil)
	action, err := m.ApplyConfig(context.Background(), stdioConfig("new", "new"))
	require.NoError(t, err)
	assert.Equal(t, ApplyAdded, action)
	assert.True(t, m.HasServer("new"))
	assert.Nil(t, m.GetClient("new"))

	_, err = m.ApplyConfig(context.Background(), &StdioServerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyConfigTransportChangeRestartsOnce(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello-cmd", fixture.Options{Name: "e2e-test"})
	d.serve("hi-cmd", fixture.Options{Name: "e2e-test", Greeting: "Hi"})
	m := newTestManager(t, d, nil, stdioConfig("e2e-test", "hello-cmd"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "e2e-test"))
	old := m.GetClient("e2e-test")

	res, err := m.CallTool(ctx, "e2e-test", "hello", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", textOf(t, res))

	action, err := m.ApplyConfig(ctx, stdioConfig("e2e-test", "hi-cmd"))
	require.NoError(t, err)
	assert.Equal(t, ApplyRestarted, action)

	next := m.GetClient("e2e-test")
	assert.NotSame(t, old, next)
	assert.Equal(t, StatusDisconnected, old.Status())
	select {
	case <-old.Closed():
	default:
		t.Fatal("old client was not fully closed")
	}
	assert.Equal(t, 1, d.dialCount("hello-cmd"))
	assert.Equal(t, 1, d.dialCount("hi-cmd"))
	assert.Equal(t, 1, next.Connects())

	res, err = m.CallTool(ctx, "e2e-test", "hello", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hi, World!", textOf(t, res))

	assert.Error(t, old.Connect(ctx), "a replaced client never dials again")
	assert.Equal(t, 1, d.dialCount("hello-cmd"))
}

func TestApplyConfigCallsDuringSwapWait(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("v1", fixture.Options{Name: "swap"})
	d.serve("v2", fixture.Options{Name: "swap", Greeting: "Hi"})
	m := newTestManager(t, d, nil, stdioConfig("swap", "v1"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "swap"))

	gate := d.gate("v2")
	applied := make(chan error, 1)
	go func() {
		_, err := m.ApplyConfig(ctx, stdioConfig("swap", "v2"))
		applied <- err
	}()
	require.Eventually(t, func() bool { return m.isRestarting("swap") }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, m.GetClient("swap"), "the name must always route to a client")

	type callResult struct {
		res *mcp.CallToolResult
		err error
	}
	called := make(chan callResult, 1)
	go func() {
		res, err := m.CallTool(ctx, "swap", "hello", nil, 0)
		called <- callResult{res: res, err: err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)
	require.NoError(t, <-applied)
	got := <-called
	require.NoError(t, got.err)
	assert.Equal(t, "Hi, World!", textOf(t, got.res))
}

func TestApplyConfigFailFastDuringSwap(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("v1", fixture.Options{Name: "swap"})
	d.serve("v2", fixture.Options{Name: "swap"})
	m := newTestManager(t, d, &ManagerOptions{FailFastOnRestart: true}, stdioConfig("swap", "v1"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "swap"))

	gate := d.gate("v2")
	applied := make(chan error, 1)
	go func() {
		_, err := m.ApplyConfig(ctx, stdioConfig("swap", "v2"))
		applied <- err
	}()
	require.Eventually(t, func() bool { return m.isRestarting("swap") }, time.Second, 5*time.Millisecond)

	_, err := m.CallTool(ctx, "swap", "hello", nil, 0)
	assert.ErrorIs(t, err, ErrServerRestarting)

	close(gate)
	require.NoError(t, <-applied)
}

func TestApplyConfigDisableStopsClient(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "hello"))
	old := m.GetClient("hello")

	disabled := stdioConfig("hello", "hello")
	disabled.Disabled = true
	action, err := m.ApplyConfig(ctx, disabled)
	require.NoError(t, err)
	assert.Equal(t, ApplyStopped, action)
	assert.Nil(t, m.GetClient("hello"))
	assert.Equal(t, StatusDisconnected, old.Status())
	assert.ErrorIs(t, m.StartClient(ctx, "hello"), ErrServerDisabled)
}

func TestApplyConfigReplacesInactiveServer(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	m := newTestManager(t, d, nil, stdioConfig("idle", "a"))
	action, err := m.ApplyConfig(context.Background(), stdioConfig("idle", "b"))
	require.NoError(t, err)
	assert.Equal(t, ApplyReplaced, action)
	assert.Zero(t, d.dialCount("a")+d.dialCount("b"))
	cfg, _ := AsStdio(m.GetServerConfig("idle"))
	assert.Equal(t, "b", cfg.Command)
}

func TestRemoveServer(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "hello"))

	removed := make(chan string, 1)
	m.OnServerRemoved(func(name string) { removed <- name })
	m.OnServerRemoved(func(string) { panic("listener bug") })

	ok, err := m.RemoveServer(ctx, "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", <-removed)
	assert.False(t, m.HasServer("hello"))

	ok, err = m.RemoveServer(ctx, "hello")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerCloseRejectsStarts(t *testing.T) {
	t.Parallel()

	d := newMemDialer()
	d.serve("hello", fixture.Options{Name: "hello"})
	m := newTestManager(t, d, nil, stdioConfig("hello", "hello"))
	ctx := context.Background()
	require.NoError(t, m.StartClient(ctx, "hello"))
	client := m.GetClient("hello")

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.True(t, errors.Is(m.StartClient(ctx, "hello"), ErrManagerClosed))
	_, err := m.ApplyConfig(ctx, stdioConfig("other", "x"))
	assert.ErrorIs(t, err, ErrManagerClosed)
	require.NoError(t, m.Close(ctx), "close is idempotent")
}

func (m *Manager) isRestarting(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarting[name] != nil
}
