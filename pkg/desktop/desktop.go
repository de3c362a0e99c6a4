// Package desktop interprets window:// resources and arranges them into the
// desktop view returned to an agent.
package desktop

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Scheme is the URI scheme of desktop resources.
const Scheme = "window"

// ErrNotWindow is returned when a URI does not use the window scheme.
var ErrNotWindow = errors.New("desktop: not a window:// uri")

// WindowURI is a parsed window:// resource address.
type WindowURI struct {
	Raw        string
	Host       string
	Path       string
	Priority   int
	Fullscreen bool
}

// IsWindowURI reports whether uri uses the window scheme.
func IsWindowURI(uri string) bool {
	scheme, _, ok := strings.Cut(uri, "://")
	return ok && strings.EqualFold(scheme, Scheme)
}

// ParseWindowURI parses uri. Missing or malformed priority and fullscreen
// parameters fall back to 0 and false.
func ParseWindowURI(uri string) (WindowURI, error) {
	if !IsWindowURI(uri) {
		return WindowURI{}, fmt.Errorf("%w: %q", ErrNotWindow, uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return WindowURI{}, fmt.Errorf("desktop: parse %q: %w", uri, err)
	}
	if u.Host == "" {
		return WindowURI{}, fmt.Errorf("desktop: %q has no host", uri)
	}
	w := WindowURI{Raw: uri, Host: u.Host, Path: u.Path}
	q := u.Query()
	if p, err := strconv.Atoi(q.Get("priority")); err == nil {
		w.Priority = p
	}
	if f, err := strconv.ParseBool(q.Get("fullscreen")); err == nil {
		w.Fullscreen = f
	}
	return w, nil
}

// Window is one desktop window with its rendered content.
type Window struct {
	Server  string `json:"server"`
	URI     string `json:"uri"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`

	parsed WindowURI
}

// NewWindow builds a Window, parsing its URI for ordering hints.
func NewWindow(server, uri, name, content string) (Window, error) {
	parsed, err := ParseWindowURI(uri)
	if err != nil {
		return Window{}, err
	}
	return Window{Server: server, URI: uri, Name: name, Content: content, parsed: parsed}, nil
}

// Priority is the window's priority hint.
func (w Window) Priority() int { return w.parsed.Priority }

// Fullscreen reports whether the window asked to be shown alone.
func (w Window) Fullscreen() bool { return w.parsed.Fullscreen }

// Organize arranges windows for display.
//
// Servers come in the order of recentServers (most recent use first), with
// the rest following by name. Within a server, windows are ordered by
// descending priority, then URI. A fullscreen window hides its server's other
// windows; the highest-priority fullscreen window wins. size, when positive,
// caps the total number of windows.
func Organize(windows []Window, size int, recentServers []string) []Window {
	byServer := make(map[string][]Window)
	for _, w := range windows {
		byServer[w.Server] = append(byServer[w.Server], w)
	}

	rank := make(map[string]int, len(recentServers))
	for i, s := range recentServers {
		if _, ok := rank[s]; !ok {
			rank[s] = i
		}
	}
	servers := make([]string, 0, len(byServer))
	for s := range byServer {
		servers = append(servers, s)
	}
	slices.SortFunc(servers, func(a, b string) int {
		ra, okA := rank[a]
		rb, okB := rank[b]
		switch {
		case okA && okB:
			return cmp.Compare(ra, rb)
		case okA:
			return -1
		case okB:
			return 1
		default:
			return cmp.Compare(a, b)
		}
	})

	var out []Window
	for _, s := range servers {
		group := byServer[s]
		slices.SortStableFunc(group, func(a, b Window) int {
			if c := cmp.Compare(b.Priority(), a.Priority()); c != 0 {
				return c
			}
			return cmp.Compare(a.URI, b.URI)
		})
		if i := slices.IndexFunc(group, Window.Fullscreen); i >= 0 {
			group = group[i : i+1]
		}
		out = append(out, group...)
		if size > 0 && len(out) >= size {
			return out[:size]
		}
	}
	return out
}
