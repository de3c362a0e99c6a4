// Package inputs resolves ${input:ID} placeholders in server configuration.
//
// A Resolver holds input definitions and a cache of resolved values. The two
// have independent lifecycles: a cached value can be set, replaced, or
// dropped without touching its definition.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Type is the kind of an input definition.
type Type string

const (
	TypePromptString Type = "promptString"
	TypePickString   Type = "pickString"
	TypeCommand      Type = "command"
)

var (
	// ErrUnknownInput is returned when a value is set for an id with no
	// definition.
	ErrUnknownInput = errors.New("inputs: unknown input")
	// ErrInvalidDefinition wraps definition validation failures.
	ErrInvalidDefinition = errors.New("inputs: invalid definition")
	// ErrRender wraps failures while producing a value: a failing command or
	// a prompter error. Missing values never produce it.
	ErrRender = errors.New("inputs: render failed")
)

// Definition describes how a placeholder gets its value.
type Definition struct {
	ID          string
	Type        Type
	Description string
	// Default is used when no value is cached. Empty means no default.
	Default string
	// Password marks the value as secret; it is never logged.
	Password bool
	// Options lists the choices of a pickString input.
	Options []string
	// Command and Args run a command input; trimmed stdout is the value.
	Command string
	Args    []string
}

// Validate checks a definition.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	switch d.Type {
	case TypePromptString:
	case TypePickString:
		if len(d.Options) == 0 {
			return fmt.Errorf("%w: %q: pickString needs options", ErrInvalidDefinition, d.ID)
		}
		if d.Default != "" && !slices.Contains(d.Options, d.Default) {
			return fmt.Errorf("%w: %q: default %q is not an option", ErrInvalidDefinition, d.ID, d.Default)
		}
	case TypeCommand:
		if strings.TrimSpace(d.Command) == "" {
			return fmt.Errorf("%w: %q: command is required", ErrInvalidDefinition, d.ID)
		}
	default:
		return fmt.Errorf("%w: %q: unknown type %q", ErrInvalidDefinition, d.ID, d.Type)
	}
	return nil
}

func (d Definition) clone() Definition {
	d.Options = slices.Clone(d.Options)
	d.Args = slices.Clone(d.Args)
	return d
}

// Prompter asks a human for a value. It is consulted when neither a cached
// value nor a default exists.
type Prompter interface {
	Prompt(ctx context.Context, def Definition) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, def Definition) (string, error)

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context, def Definition) (string, error) {
	return f(ctx, def)
}

// Options configures a Resolver.
type Options struct {
	Prompter Prompter
	Logger   *slog.Logger
}

// Resolver renders placeholders from definitions and cached values. It is
// safe for concurrent use.
type Resolver struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	values   map[string]string
	prompter Prompter
	log      *slog.Logger
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

var placeholder = regexp.MustCompile(`\$\{input:([^}]+)\}`)

// NewResolver validates defs and returns a Resolver with an empty cache.
func NewResolver(defs []Definition, opts *Options) (*Resolver, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	r := &Resolver{
		defs:     make(map[string]Definition),
		values:   make(map[string]string),
		prompter: o.Prompter,
		log:      o.Logger,
		run:      runCommand,
	}
	if err := r.Replace(defs); err != nil {
		return nil, err
	}
	return r, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Replace swaps the whole definition set. Cached values whose definition
// disappeared are dropped.
func (r *Resolver) Replace(defs []Definition) error {
	next := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := next[def.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidDefinition, def.ID)
		}
		next[def.ID] = def.clone()
	}
	r.mu.Lock()
	r.defs = next
	maps.DeleteFunc(r.values, func(id string, _ string) bool {
		_, ok := next[id]
		return !ok
	})
	r.mu.Unlock()
	return nil
}

// AddOrUpdate inserts or replaces one definition. The cached value, if any,
// is kept.
func (r *Resolver) AddOrUpdate(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.defs[def.ID] = def.clone()
	r.mu.Unlock()
	return nil
}

// Remove deletes a definition and its cached value. It reports whether the
// definition existed.
func (r *Resolver) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[id]
	delete(r.defs, id)
	delete(r.values, id)
	return ok
}

// Get returns one definition.
func (r *Resolver) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def.clone(), ok
}

// List returns every definition ordered by id.
func (r *Resolver) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, id := range slices.Sorted(maps.Keys(r.defs)) {
		out = append(out, r.defs[id].clone())
	}
	return out
}

// Value returns the cached value for id.
func (r *Resolver) Value(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[id]
	return v, ok
}

// SetValue caches a value. It reports false, storing nothing, when id has
// no definition.
func (r *Resolver) SetValue(id, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return false
	}
	r.values[id] = value
	return true
}

// DeleteValue drops one cached value and reports whether it existed.
func (r *Resolver) DeleteValue(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[id]
	delete(r.values, id)
	return ok
}

// Values returns a copy of the cache.
func (r *Resolver) Values() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.values)
}

// ClearValues empties the cache. Definitions are kept.
func (r *Resolver) ClearValues() {
	r.mu.Lock()
	clear(r.values)
	r.mu.Unlock()
}

// RenderString substitutes every placeholder in s. A placeholder whose value
// cannot be found is left unchanged and logged; only a failing command or
// prompter produces an error wrapping ErrRender. Strings without
// placeholders are returned as is.
func (r *Resolver) RenderString(ctx context.Context, s string) (string, error) {
	if !strings.Contains(s, "${input:") {
		return s, nil
	}
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		id := strings.TrimSpace(placeholder.FindStringSubmatch(match)[1])
		v, ok, err := r.resolve(ctx, id)
		if err != nil {
			firstErr = err
			return match
		}
		if !ok {
			r.log.Warn("unresolved input placeholder left in place", slog.String("input", id))
			return match
		}
		return v
	})
	if firstErr != nil {
		return s, firstErr
	}
	return out, nil
}

// Render walks strings, string slices, and string-keyed maps (nested through
// []any and map[string]any) and renders every string it finds. Other values
// are returned untouched. The input is never mutated.
func (r *Resolver) Render(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.RenderString(ctx, t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			rendered, err := r.RenderString(ctx, s)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			rendered, err := r.RenderString(ctx, s)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rendered, err := r.Render(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			rendered, err := r.Render(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolve finds a value: the cache first, then a command run, then the
// default, then the prompter. Command and prompter answers are cached.
func (r *Resolver) resolve(ctx context.Context, id string) (string, bool, error) {
	r.mu.RLock()
	def, defined := r.defs[id]
	cached, hit := r.values[id]
	prompter := r.prompter
	r.mu.RUnlock()

	switch {
	case hit:
		return cached, true, nil
	case !defined:
		return "", false, nil
	case def.Type == TypeCommand:
		out, err := r.run(ctx, def.Command, def.Args...)
		if err != nil {
			return "", false, fmt.Errorf("%w: input %q: %v", ErrRender, id, err)
		}
		v := strings.TrimSpace(string(out))
		r.SetValue(id, v)
		return v, true, nil
	case def.Default != "":
		return def.Default, true, nil
	case prompter != nil:
		v, err := prompter.Prompt(ctx, def)
		if err != nil {
			return "", false, fmt.Errorf("%w: input %q: %v", ErrRender, id, err)
		}
		if def.Type == TypePickString && !slices.Contains(def.Options, v) {
			return "", false, fmt.Errorf("%w: input %q: %q is not an option", ErrRender, id, v)
		}
		r.SetValue(id, v)
		return v, true, nil
	default:
		return "", false, nil
	}
}
