package computer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/a2c-computer-go/internal/fixture"
	"github.com/vikashloomba/a2c-computer-go/pkg/desktop"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

func windowURIs(ws []desktop.Window) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.URI
	}
	return out
}

func desktopComputer(t *testing.T) *Computer {
	t.Helper()
	return newStarted(t, &Options{
		Servers: []mcpmgr.ServerConfig{
			fixtureServer("alpha", fixture.Options{Windows: []string{
				"window://alpha/low?priority=1",
				"window://alpha/high?priority=5",
				fixture.BrokenWindow,
				"notes://alpha/readme",
			}}),
			fixtureServer("beta", fixture.Options{Windows: []string{"window://beta/main"}}),
		},
		AutoConnect: true,
	})
}

func TestGetDesktopSkipsBrokenWindows(t *testing.T) {
	skipShort(t)
	ctx := testContext(t)
	c := desktopComputer(t)

	d := c.GetDesktop(ctx, DesktopRequest{})
	assert.Equal(t, []string{
		"window://alpha/high?priority=5",
		"window://alpha/low?priority=1",
		"window://beta/main",
	}, windowURIs(d.Windows))
	assert.Equal(t, "content of window://beta/main", d.Windows[2].Content)
	assert.Equal(t, "beta", d.Windows[2].Server)

	require.Len(t, d.Errors, 1)
	assert.Equal(t, "alpha", d.Errors[0].Server)
	assert.Equal(t, fixture.BrokenWindow, d.Errors[0].URI)
}

func TestGetDesktopFavorsRecentlyUsedServers(t *testing.T) {
	skipShort(t)
	ctx := testContext(t)
	c := desktopComputer(t)

	_, err := c.CallTool(ctx, CallRequest{Server: "beta", Tool: "hello"})
	require.NoError(t, err)

	d := c.GetDesktop(ctx, DesktopRequest{Size: intPtr(2)})
	assert.Equal(t, []string{"window://beta/main", "window://alpha/high?priority=5"}, windowURIs(d.Windows))

	one := c.GetDesktop(ctx, DesktopRequest{WindowURI: "window://alpha/low?priority=1"})
	assert.Equal(t, []string{"window://alpha/low?priority=1"}, windowURIs(one.Windows))
	assert.Empty(t, one.Errors)

	none := c.GetDesktop(ctx, DesktopRequest{Size: intPtr(0)})
	assert.Empty(t, none.Windows)
}

func TestGetDesktopOmitsStoppedServers(t *testing.T) {
	skipShort(t)
	ctx := testContext(t)
	c := desktopComputer(t)

	require.NoError(t, c.StopServer(ctx, "beta"))
	d := c.GetDesktop(ctx, DesktopRequest{})
	assert.NotContains(t, windowURIs(d.Windows), "window://beta/main")
	assert.Len(t, d.Windows, 2)
}
