package mcpmgr

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Helpers for narrowing, comparing, and rewriting ServerConfig values without
// forcing consumers to use a type switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportSSE   ConfigTransport = "sse"
)

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportSSE
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}

// NameOf returns the configured server name, or "" for a nil config.
func NameOf(cfg ServerConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.base().Name
}

// BaseOf returns a deep copy of the transport-independent settings.
func BaseOf(cfg ServerConfig) BaseServerConfig {
	if cfg == nil {
		return BaseServerConfig{}
	}
	return cfg.base().clone()
}

// Clone returns a deep copy of cfg.
func Clone(cfg ServerConfig) ServerConfig {
	if cfg == nil {
		return nil
	}
	return cfg.clone()
}

// Validate checks the fields every transport needs before a dial is
// attempted.
func Validate(cfg ServerConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	name := cfg.base().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if cfg.base().Timeout < 0 {
		return fmt.Errorf("%w: %q: negative timeout", ErrInvalidConfig, name)
	}
	switch c := cfg.(type) {
	case *StdioServerConfig:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("%w: %q: command is required", ErrInvalidConfig, name)
		}
	case *HTTPServerConfig:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("%w: %q: url is required", ErrInvalidConfig, name)
		}
		if _, err := url.Parse(c.URL); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidConfig, name, err)
		}
	default:
		return fmt.Errorf("%w: %q: unsupported config %T", ErrInvalidConfig, name, cfg)
	}
	return nil
}

// TransportEqual reports whether a and b would dial the same transport and
// open the same session. Version and LogJSONRPC are fixed when the session
// is built, so they count here. Tool meta, forbidden tools and timeouts are
// ignored.
func TransportEqual(a, b ServerConfig) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, y := a.base(), b.base(); x.Version != y.Version || x.LogJSONRPC != y.LogJSONRPC {
		return false
	}
	switch x := a.(type) {
	case *StdioServerConfig:
		y, ok := b.(*StdioServerConfig)
		return ok &&
			x.Command == y.Command &&
			x.Cwd == y.Cwd &&
			slices.Equal(x.Args, y.Args) &&
			maps.Equal(x.Env, y.Env)
	case *HTTPServerConfig:
		y, ok := b.(*HTTPServerConfig)
		return ok &&
			x.URL == y.URL &&
			x.MaxRetries == y.MaxRetries &&
			boolPtrEqual(x.PreferSSE, y.PreferSSE) &&
			maps.Equal(x.Headers, y.Headers)
	default:
		return a == nil && b == nil
	}
}

// Equal reports whether a and b are structurally identical, including
// metadata. Nil and empty collections compare equal.
func Equal(a, b ServerConfig) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return TransportEqual(a, b) && baseEqual(a.base(), b.base())
}

func baseEqual(a, b *BaseServerConfig) bool {
	if a.Name != b.Name ||
		a.Disabled != b.Disabled ||
		a.Timeout != b.Timeout ||
		a.Version != b.Version ||
		a.LogJSONRPC != b.LogJSONRPC {
		return false
	}
	if !slices.Equal(a.ForbiddenTools, b.ForbiddenTools) {
		return false
	}
	if (a.DefaultToolMeta == nil) != (b.DefaultToolMeta == nil) {
		return false
	}
	if a.DefaultToolMeta != nil && !a.DefaultToolMeta.equal(*b.DefaultToolMeta) {
		return false
	}
	return maps.EqualFunc(a.ToolMeta, b.ToolMeta, ToolMeta.equal)
}

func (t ToolMeta) equal(o ToolMeta) bool {
	return t.Alias == o.Alias &&
		boolPtrEqual(t.AutoApply, o.AutoApply) &&
		slices.Equal(t.Tags, o.Tags)
}

// EffectiveToolMeta merges the per-tool entry over DefaultToolMeta. Fields
// left unset on the per-tool entry inherit the default.
func EffectiveToolMeta(cfg ServerConfig, tool string) ToolMeta {
	if cfg == nil {
		return ToolMeta{}
	}
	b := cfg.base()
	var out ToolMeta
	if b.DefaultToolMeta != nil {
		out = b.DefaultToolMeta.clone()
		// Aliases are per tool and never inherited.
		out.Alias = ""
	}
	meta, ok := b.ToolMeta[tool]
	if !ok {
		return out
	}
	meta = meta.clone()
	if meta.AutoApply != nil {
		out.AutoApply = meta.AutoApply
	}
	if meta.Alias != "" {
		out.Alias = meta.Alias
	}
	if len(meta.Tags) > 0 {
		out.Tags = meta.Tags
	}
	return out
}

// RewriteStrings returns a copy of cfg with fn applied to every string that
// shapes the transport: command, arguments, environment values, and working
// directory for stdio; URL and header values for HTTP. Metadata is copied
// untouched. The first error from fn aborts the rewrite.
func RewriteStrings(cfg ServerConfig, fn func(string) (string, error)) (ServerConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	out := cfg.clone()
	var err error
	rewrite := func(s *string) {
		if err != nil {
			return
		}
		*s, err = fn(*s)
	}
	switch c := out.(type) {
	case *StdioServerConfig:
		rewrite(&c.Command)
		for i := range c.Args {
			rewrite(&c.Args[i])
		}
		for _, k := range slices.Sorted(maps.Keys(c.Env)) {
			v := c.Env[k]
			rewrite(&v)
			c.Env[k] = v
		}
		rewrite(&c.Cwd)
	case *HTTPServerConfig:
		rewrite(&c.URL)
		for _, k := range slices.Sorted(maps.Keys(c.Headers)) {
			v := c.Headers[k]
			rewrite(&v)
			c.Headers[k] = v
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	return maps.Clone(in)
}
