package desktop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindowURI(t *testing.T) {
	w, err := ParseWindowURI("window://editor/main?priority=5&fullscreen=true")
	require.NoError(t, err)
	assert.Equal(t, "editor", w.Host)
	assert.Equal(t, "/main", w.Path)
	assert.Equal(t, 5, w.Priority)
	assert.True(t, w.Fullscreen)

	w, err = ParseWindowURI("window://term?priority=high")
	require.NoError(t, err)
	assert.Zero(t, w.Priority)
	assert.False(t, w.Fullscreen)

	_, err = ParseWindowURI("file:///tmp/x")
	assert.ErrorIs(t, err, ErrNotWindow)
	_, err = ParseWindowURI("window://")
	assert.Error(t, err)

	assert.True(t, IsWindowURI("WINDOW://a"))
	assert.False(t, IsWindowURI("windows"))
}

func win(t *testing.T, server, uri string) Window {
	t.Helper()
	w, err := NewWindow(server, uri, "", "")
	require.NoError(t, err)
	return w
}

func uris(ws []Window) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.URI
	}
	return out
}

func TestOrganizeOrdersByRecencyThenPriority(t *testing.T) {
	windows := []Window{
		win(t, "a", "window://a/low?priority=1"),
		win(t, "a", "window://a/high?priority=9"),
		win(t, "b", "window://b/one"),
		win(t, "c", "window://c/z"),
		win(t, "c", "window://c/y"),
	}

	got := Organize(windows, 0, []string{"c", "missing"})
	assert.Equal(t, []string{
		"window://c/y", "window://c/z",
		"window://a/high?priority=9", "window://a/low?priority=1",
		"window://b/one",
	}, uris(got))

	assert.Equal(t, []string{"window://c/y", "window://c/z", "window://a/high?priority=9"}, uris(Organize(windows, 3, []string{"c"})))
}

func TestOrganizeFullscreenShowsAlone(t *testing.T) {
	windows := []Window{
		win(t, "a", "window://a/normal?priority=10"),
		win(t, "a", "window://a/full?fullscreen=1&priority=2"),
		win(t, "a", "window://a/full2?fullscreen=true"),
		win(t, "b", "window://b/x"),
	}
	got := Organize(windows, 0, nil)
	assert.Equal(t, []string{"window://a/full?fullscreen=1&priority=2", "window://b/x"}, uris(got))
}
