// Package registry holds the host's shared namespace of invocable tools.
//
// A Registry is an explicit object passed by reference to every component
// that bridges tools into the host — there is no process-wide singleton, so
// tests can instantiate isolated registries. Entries are keyed by exposed
// name and tagged with the owner that registered them; an owner can only
// remove its own entries, which makes registration and unregistration safe
// to interleave across independently-connected tool servers.
package registry

import (
	"context"
	"sort"
	"sync"
)

// ParamType is the host-side semantic type of one tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "boolean"
	ParamArray  ParamType = "array"
)

// Parameter describes one parameter of a registered tool.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Result is the outcome of one tool invocation. Execution never raises —
// failures are reported through Success/Error so a caller iterating over
// several tool calls is not aborted by one failing call.
type Result struct {
	Success bool
	Data    any    // Content returned by the tool on success
	Error   string // Failure description when Success is false
}

// Tool is one invocable entry in the shared registry.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Execute     func(ctx context.Context, args map[string]any) Result
}

type entry struct {
	tool  Tool
	owner string
}

// Registry is a concurrency-safe map of exposed tool names to tools.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a tool under the given owner tag.
//
// Re-registering a name the same owner already holds is a silent no-op and
// returns true. A name held by a different owner is left untouched and
// Register returns false so the caller can log and skip it.
func (r *Registry) Register(owner string, tool Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[tool.Name]; ok {
		return existing.owner == owner
	}
	r.entries[tool.Name] = entry{tool: tool, owner: owner}
	return true
}

// Unregister removes a tool by name, but only if the given owner registered it.
// Returns true if an entry was removed.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[name]
	if !ok || existing.owner != owner {
		return false
	}
	delete(r.entries, name)
	return true
}

// Get returns the tool registered under the given exposed name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.tool, ok
}

// Owner returns the owner tag for a registered name.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.owner, ok
}

// Names returns all registered exposed names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tools, sorted by exposed name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.entries[name].tool)
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
