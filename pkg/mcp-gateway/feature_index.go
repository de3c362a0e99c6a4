package mcpgateway

import (
	"maps"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
)

const (
	metaKeyServer     = "a2c.server"
	metaKeyNativeName = "a2c.native_name"
	metaKeyNativeURI  = "a2c.native_uri"
	metaKeyTags       = "a2c.tags"
)

// target ties a name the gateway registered to the upstream feature behind
// it. Exposed and Native are tool or prompt names, or resource URIs.
type target struct {
	Exposed string
	Server  string
	Native  string
}

type registration[F any] struct {
	Feature F
	Target  target
}

// scoped is a name table whose entries belong to one server each.
type scoped struct {
	byName   map[string]target
	byServer map[string][]string
}

func newScoped() scoped {
	return scoped{byName: make(map[string]target), byServer: make(map[string][]string)}
}

func (s scoped) drop(server string) []string {
	names := s.byServer[server]
	for _, name := range names {
		delete(s.byName, name)
	}
	delete(s.byServer, server)
	return names
}

func (s scoped) put(t target) {
	s.byName[t.Exposed] = t
	s.byServer[t.Server] = append(s.byServer[t.Server], t.Exposed)
}

// featureIndex remembers which upstream feature backs every name the gateway
// has registered on its server. Tools come from the Computer, whose names are
// already unique, so they live in a flat table.
type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     map[string]target
	prompts   scoped
	resources scoped
	// native resource URI per server, back to the exposed URI
	reverse map[string]string
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:        ns,
		tools:     make(map[string]target),
		prompts:   newScoped(),
		resources: newScoped(),
		reverse:   make(map[string]string),
	}
}

// UpdateTools replaces the whole tool set.
func (f *featureIndex) UpdateTools(tools []computer.Tool) (removed []string, added []registration[*mcp.Tool]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]target, len(tools))
	for _, tool := range tools {
		t := target{Exposed: tool.Name, Server: tool.Server, Native: tool.OriginalName}
		next[tool.Name] = t
		added = append(added, registration[*mcp.Tool]{Feature: exposeTool(tool), Target: t})
	}
	for name := range f.tools {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	f.tools = next
	return removed, added
}

func (f *featureIndex) UpdatePrompts(server string, upstream []*mcp.Prompt) (removed []string, added []registration[*mcp.Prompt]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.prompts.drop(server)
	for _, prompt := range upstream {
		if prompt == nil {
			continue
		}
		t := target{Exposed: f.ns.PromptName(server, prompt.Name), Server: server, Native: prompt.Name}
		f.prompts.put(t)
		added = append(added, registration[*mcp.Prompt]{Feature: exposePrompt(prompt, t), Target: t})
	}
	return removed, added
}

func (f *featureIndex) UpdateResources(server string, upstream []*mcp.Resource) (removed []string, added []registration[*mcp.Resource]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.dropResourcesLocked(server)
	for _, resource := range upstream {
		if resource == nil {
			continue
		}
		t := target{Exposed: f.ns.ResourceURI(server, resource.URI), Server: server, Native: resource.URI}
		f.resources.put(t)
		f.reverse[resourceKey(server, resource.URI)] = t.Exposed
		added = append(added, registration[*mcp.Resource]{Feature: exposeResource(resource, t), Target: t})
	}
	return removed, added
}

// Forget drops every prompt and resource of server and returns what the
// caller must unregister.
func (f *featureIndex) Forget(server string) (prompts, resources []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts.drop(server), f.dropResourcesLocked(server)
}

func (f *featureIndex) dropResourcesLocked(server string) []string {
	for _, uri := range f.resources.byServer[server] {
		if t, ok := f.resources.byName[uri]; ok {
			delete(f.reverse, resourceKey(t.Server, t.Native))
		}
	}
	return f.resources.drop(server)
}

// Servers lists servers with registered prompts or resources.
func (f *featureIndex) Servers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := slices.Collect(maps.Keys(f.prompts.byServer))
	for name := range f.resources.byServer {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (f *featureIndex) lookup(table map[string]target, name string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := table[name]
	return t, ok
}

func (f *featureIndex) ToolTarget(name string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *featureIndex) PromptTarget(name string) (target, bool) {
	return f.lookup(f.prompts.byName, name)
}

func (f *featureIndex) ResourceTarget(uri string) (target, bool) {
	return f.lookup(f.resources.byName, uri)
}

// ExposedResource maps an upstream resource URI back to the gateway URI.
func (f *featureIndex) ExposedResource(server, nativeURI string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	uri, ok := f.reverse[resourceKey(server, nativeURI)]
	return uri, ok
}

func resourceKey(server, nativeURI string) string {
	return server + "\x00" + nativeURI
}

func exposeTool(tool computer.Tool) *mcp.Tool {
	var out mcp.Tool
	if tool.Tool != nil {
		out = *tool.Tool
	}
	out.Name = tool.Name
	if out.Description == "" {
		out.Description = tool.Description
	}
	if out.InputSchema == nil {
		out.InputSchema = tool.InputSchema
	}
	out.InputSchema = objectSchema(out.InputSchema)
	out.OutputSchema = outputSchema(out.OutputSchema)
	extras := map[string]any{
		metaKeyServer:     tool.Server,
		metaKeyNativeName: tool.OriginalName,
	}
	if len(tool.Meta.Tags) > 0 {
		extras[metaKeyTags] = slices.Clone(tool.Meta.Tags)
	}
	out.Meta = withMeta(out.Meta, extras)
	return &out
}

// objectSchema makes sure a mirrored tool advertises an object input schema,
// which the server side requires.
func objectSchema(schema any) any {
	s, ok := schema.(map[string]any)
	if !ok {
		return map[string]any{"type": "object"}
	}
	if s["type"] == "object" {
		return s
	}
	out := maps.Clone(s)
	out["type"] = "object"
	return out
}

// outputSchema keeps an upstream output schema only when it describes an
// object.
func outputSchema(schema any) any {
	if s, ok := schema.(map[string]any); ok && s["type"] == "object" {
		return s
	}
	return nil
}

func exposePrompt(prompt *mcp.Prompt, t target) *mcp.Prompt {
	out := *prompt
	out.Name = t.Exposed
	out.Meta = withMeta(prompt.Meta, map[string]any{metaKeyServer: t.Server, metaKeyNativeName: t.Native})
	return &out
}

func exposeResource(resource *mcp.Resource, t target) *mcp.Resource {
	out := *resource
	out.URI = t.Exposed
	out.Meta = withMeta(resource.Meta, map[string]any{metaKeyServer: t.Server, metaKeyNativeURI: t.Native})
	return &out
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extras))
	}
	maps.Copy(out, extras)
	return out
}
