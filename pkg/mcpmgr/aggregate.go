package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// ServerItem pairs a listed item with the server that produced it.
type ServerItem[T any] struct {
	Server string
	Item   T
}

// Aggregate is the result of a fan-out list across active servers. Items are
// grouped by server in name order, preserving each server's own order.
// Servers that failed appear in Errors and contribute no items.
type Aggregate[T any] struct {
	Items  []ServerItem[T]
	Errors map[string]error
}

// Err joins the per-server failures, or returns nil.
func (a Aggregate[T]) Err() error {
	if len(a.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(a.Errors))
	for name := range a.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, a.Errors[name]))
	}
	return errors.Join(errs...)
}

// ListToolsAggregated lists tools from every active server concurrently.
func (m *Manager) ListToolsAggregated(ctx context.Context) Aggregate[*mcp.Tool] {
	return aggregate(ctx, m, (*Client).ListTools)
}

// ListResourcesAggregated lists resources from every active server
// concurrently.
func (m *Manager) ListResourcesAggregated(ctx context.Context) Aggregate[*mcp.Resource] {
	return aggregate(ctx, m, (*Client).ListResources)
}

// ListPromptsAggregated lists prompts from every active server concurrently.
func (m *Manager) ListPromptsAggregated(ctx context.Context) Aggregate[*mcp.Prompt] {
	return aggregate(ctx, m, (*Client).ListPrompts)
}

func (m *Manager) activeNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func aggregate[T any](ctx context.Context, m *Manager, fetch func(*Client, context.Context) ([]T, error)) Aggregate[T] {
	names := m.activeNames()
	results := make([][]T, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	if m.options.Concurrency > 0 {
		g.SetLimit(m.options.Concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			c, err := m.route(ctx, name)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fetch(c, ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := Aggregate[T]{Errors: map[string]error{}}
	for i, name := range names {
		if errs[i] != nil {
			out.Errors[name] = errs[i]
			continue
		}
		for _, item := range results[i] {
			out.Items = append(out.Items, ServerItem[T]{Server: name, Item: item})
		}
	}
	return out
}

// forEach runs fn for every name with the manager's concurrency limit and
// joins the failures in name order.
func (m *Manager) forEach(names []string, fn func(string) error) error {
	errs := make([]error, len(names))
	var g errgroup.Group
	if m.options.Concurrency > 0 {
		g.SetLimit(m.options.Concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			if err := fn(name); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
