// Package config reads the declarative YAML description of a computer: its
// servers, input definitions and runtime switches.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
	"github.com/vikashloomba/a2c-computer-go/pkg/inputs"
	"github.com/vikashloomba/a2c-computer-go/pkg/mcpmgr"
)

// ErrInvalid wraps every validation failure of a config file.
var ErrInvalid = errors.New("config: invalid")

// Server types accepted in the "type" field.
const (
	TypeStdio          = "stdio"
	TypeSSE            = "sse"
	TypeHTTP           = "http"
	TypeStreamableHTTP = "streamable-http"
)

// File is the top-level document.
type File struct {
	Name          string     `yaml:"name,omitempty" jsonschema:"description=Computer identity"`
	AutoConnect   *bool      `yaml:"auto_connect,omitempty" jsonschema:"description=Start enabled servers on boot (default true)"`
	AutoReconnect *bool      `yaml:"auto_reconnect,omitempty" jsonschema:"description=Retry dropped servers (default true)"`
	Reconnect     *Reconnect `yaml:"reconnect,omitempty"`
	HistorySize   *int       `yaml:"history_size,omitempty" jsonschema:"minimum=0,description=In-memory call history size; 0 keeps everything"`
	HistoryDB     string     `yaml:"history_db,omitempty" jsonschema:"description=SQLite file mirroring the call history"`
	Gateway       Gateway    `yaml:"gateway,omitempty"`
	Servers       []Server   `yaml:"servers,omitempty"`
	Inputs        []Input    `yaml:"inputs,omitempty"`

	// dir is where the file was loaded from; relative paths resolve there.
	dir string
}

// Reconnect mirrors mcpmgr.ReconnectPolicy.
type Reconnect struct {
	MaxAttempts int      `yaml:"max_attempts,omitempty" jsonschema:"minimum=0"`
	Delay       Duration `yaml:"delay,omitempty" jsonschema:"description=Go duration string or seconds"`
	Multiplier  float64  `yaml:"multiplier,omitempty" jsonschema:"minimum=1"`
	MaxDelay    Duration `yaml:"max_delay,omitempty" jsonschema:"description=Go duration string or seconds"`
}

// Gateway configures the agent-facing HTTP endpoint.
type Gateway struct {
	Addr        string   `yaml:"addr,omitempty" jsonschema:"description=Listen address; the gateway is off when empty"`
	Path        string   `yaml:"path,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Server is one MCP server entry.
type Server struct {
	Name     string `yaml:"name" jsonschema:"required"`
	Type     string `yaml:"type" jsonschema:"required,enum=stdio,enum=sse,enum=http,enum=streamable-http"`
	Disabled bool   `yaml:"disabled,omitempty"`

	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`

	URL        string            `yaml:"url,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	PreferSSE  *bool             `yaml:"prefer_sse,omitempty"`
	MaxRetries int               `yaml:"max_retries,omitempty"`

	Timeout         Duration            `yaml:"timeout,omitempty" jsonschema:"description=Go duration string or seconds"`
	ForbiddenTools  []string            `yaml:"forbidden_tools,omitempty"`
	ToolMeta        map[string]ToolMeta `yaml:"tool_meta,omitempty"`
	DefaultToolMeta *ToolMeta           `yaml:"default_tool_meta,omitempty"`
	LogJSONRPC      bool                `yaml:"log_jsonrpc,omitempty"`
}

// ToolMeta mirrors mcpmgr.ToolMeta.
type ToolMeta struct {
	AutoApply *bool    `yaml:"auto_apply,omitempty"`
	Alias     string   `yaml:"alias,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
}

// Input is one input definition.
type Input struct {
	ID          string   `yaml:"id" jsonschema:"required"`
	Type        string   `yaml:"type" jsonschema:"required,enum=promptString,enum=pickString,enum=command"`
	Description string   `yaml:"description,omitempty"`
	Default     string   `yaml:"default,omitempty"`
	Password    bool     `yaml:"password,omitempty"`
	Options     []string `yaml:"options,omitempty"`
	Command     string   `yaml:"command,omitempty"`
	Args        []string `yaml:"args,omitempty"`
}

// Duration accepts Go duration strings ("1.5s", "30s") or a bare number of
// seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// JSONSchema describes Duration for invopop/jsonschema.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`},
			{Type: "number", Minimum: "0"},
		},
		Description: "Go duration string or seconds",
	}
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates a document. Unknown fields are rejected.
func Parse(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: yaml parse: %v", ErrInvalid, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the whole document, including what mcpmgr and inputs
// would reject later.
func (f *File) Validate() error {
	if _, err := f.ServerConfigs(); err != nil {
		return err
	}
	if _, err := inputs.NewResolver(f.InputDefinitions(), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if f.HistorySize != nil && *f.HistorySize < 0 {
		return fmt.Errorf("%w: history_size must not be negative", ErrInvalid)
	}
	return nil
}

// ServerConfigs converts the server entries.
func (f *File) ServerConfigs() ([]mcpmgr.ServerConfig, error) {
	out := make([]mcpmgr.ServerConfig, 0, len(f.Servers))
	seen := make(map[string]struct{}, len(f.Servers))
	for i, s := range f.Servers {
		cfg, err := s.toConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: servers[%d]: %v", ErrInvalid, i, err)
		}
		if err := mcpmgr.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%w: servers[%d]: %v", ErrInvalid, i, err)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%w: servers[%d]: duplicate name %q", ErrInvalid, i, s.Name)
		}
		seen[s.Name] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

func (s Server) toConfig() (mcpmgr.ServerConfig, error) {
	base := mcpmgr.BaseServerConfig{
		Name:           s.Name,
		Disabled:       s.Disabled,
		ForbiddenTools: s.ForbiddenTools,
		Timeout:        time.Duration(s.Timeout),
		LogJSONRPC:     s.LogJSONRPC,
	}
	if len(s.ToolMeta) > 0 {
		base.ToolMeta = make(map[string]mcpmgr.ToolMeta, len(s.ToolMeta))
		for tool, meta := range s.ToolMeta {
			base.ToolMeta[tool] = meta.toMeta()
		}
	}
	if s.DefaultToolMeta != nil {
		meta := s.DefaultToolMeta.toMeta()
		base.DefaultToolMeta = &meta
	}
	switch s.Type {
	case TypeStdio:
		if s.URL != "" {
			return nil, fmt.Errorf("%q: url is not valid for a stdio server", s.Name)
		}
		return &mcpmgr.StdioServerConfig{
			BaseServerConfig: base,
			Command:          s.Command,
			Args:             s.Args,
			Env:              s.Env,
			Cwd:              s.Cwd,
		}, nil
	case TypeSSE, TypeHTTP, TypeStreamableHTTP:
		if s.Command != "" {
			return nil, fmt.Errorf("%q: command is not valid for a %s server", s.Name, s.Type)
		}
		prefer := s.PreferSSE
		if prefer == nil && s.Type == TypeSSE {
			v := true
			prefer = &v
		}
		return &mcpmgr.HTTPServerConfig{
			BaseServerConfig: base,
			URL:              s.URL,
			Headers:          s.Headers,
			PreferSSE:        prefer,
			MaxRetries:       s.MaxRetries,
		}, nil
	default:
		return nil, fmt.Errorf("%q: unknown type %q", s.Name, s.Type)
	}
}

func (m ToolMeta) toMeta() mcpmgr.ToolMeta {
	return mcpmgr.ToolMeta{AutoApply: m.AutoApply, Alias: m.Alias, Tags: m.Tags}
}

// InputDefinitions converts the input entries.
func (f *File) InputDefinitions() []inputs.Definition {
	out := make([]inputs.Definition, 0, len(f.Inputs))
	for _, in := range f.Inputs {
		out = append(out, inputs.Definition{
			ID:          in.ID,
			Type:        inputs.Type(in.Type),
			Description: in.Description,
			Default:     in.Default,
			Password:    in.Password,
			Options:     in.Options,
			Command:     in.Command,
			Args:        in.Args,
		})
	}
	return out
}

// AutoConnectOrDefault reports auto_connect, true when unset.
func (f *File) AutoConnectOrDefault() bool { return f.AutoConnect == nil || *f.AutoConnect }

// AutoReconnectOrDefault reports auto_reconnect, true when unset.
func (f *File) AutoReconnectOrDefault() bool { return f.AutoReconnect == nil || *f.AutoReconnect }

// ReconnectPolicy converts the reconnect block. Unset fields take the
// mcpmgr defaults.
func (f *File) ReconnectPolicy() mcpmgr.ReconnectPolicy {
	p := mcpmgr.DefaultReconnectPolicy()
	if f.Reconnect == nil {
		return p
	}
	if f.Reconnect.MaxAttempts > 0 {
		p.MaxAttempts = f.Reconnect.MaxAttempts
	}
	if f.Reconnect.Delay > 0 {
		p.Delay = time.Duration(f.Reconnect.Delay)
	}
	if f.Reconnect.Multiplier >= 1 {
		p.Multiplier = f.Reconnect.Multiplier
	}
	if f.Reconnect.MaxDelay > 0 {
		p.MaxDelay = time.Duration(f.Reconnect.MaxDelay)
	}
	return p
}

// HistoryPath resolves history_db against the file's directory. Empty means
// no durable history.
func (f *File) HistoryPath() string {
	if f.HistoryDB == "" || filepath.IsAbs(f.HistoryDB) || f.dir == "" {
		return f.HistoryDB
	}
	return filepath.Join(f.dir, f.HistoryDB)
}

// ComputerOptions builds computer options from the file. The caller adds
// collaborators such as Confirm, Prompter and HistorySink.
func (f *File) ComputerOptions() (computer.Options, error) {
	servers, err := f.ServerConfigs()
	if err != nil {
		return computer.Options{}, err
	}
	return computer.Options{
		Name:          f.Name,
		Servers:       servers,
		Inputs:        f.InputDefinitions(),
		AutoConnect:   f.AutoConnectOrDefault(),
		AutoReconnect: f.AutoReconnectOrDefault(),
		Manager:       mcpmgr.ManagerOptions{Reconnect: f.ReconnectPolicy()},
		HistorySize:   f.HistorySize,
	}, nil
}
