package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/permission"
	"github.com/zhubert/tether/registry"
)

// ExposedPrefix is prepended to every server tool name before registration
// so registry consumers can tell external tools from built-in ones.
const ExposedPrefix = "mcp_"

// ExposedName returns the registry name a server tool is published under.
func ExposedName(toolName string) string {
	return ExposedPrefix + toolName
}

// ToolSet bridges one connected server's tools into the shared registry.
// Discover fetches the server's catalog, Register publishes it, and every
// published tool routes its invocations back through Execute.
type ToolSet struct {
	conn *Connection
	reg  *registry.Registry
	eval *permission.Evaluator
	log  *slog.Logger

	mu         sync.Mutex
	discovered []ToolDefinition
	registered map[string]bool // exposed names this set owns in the registry

	watchSub  *Subscription
	watchDone chan struct{}
}

// NewToolSet creates a tool set for the given connection. eval may be nil,
// in which case every call is permitted.
func NewToolSet(conn *Connection, reg *registry.Registry, eval *permission.Evaluator) *ToolSet {
	return &ToolSet{
		conn:       conn,
		reg:        reg,
		eval:       eval,
		log:        logger.WithServer(conn.Name()).With("component", "tools"),
		registered: make(map[string]bool),
	}
}

// Discover fetches the server's tool catalog over tools/list. The result
// replaces any previously discovered catalog verbatim; schemas are kept
// as-is and only interpreted at registration time.
func (t *ToolSet) Discover(ctx context.Context) error {
	raw, err := t.conn.Call(ctx, MethodToolsList, struct{}{})
	if err != nil {
		return fmt.Errorf("list tools on %q: %w", t.conn.Name(), err)
	}

	var result ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse tools/list result from %q: %w", t.conn.Name(), err)
	}

	t.mu.Lock()
	t.discovered = result.Tools
	t.mu.Unlock()

	t.log.Info("discovered tools", "count", len(result.Tools))
	return nil
}

// Tools returns the most recently discovered catalog.
func (t *ToolSet) Tools() []ToolDefinition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolDefinition, len(t.discovered))
	copy(out, t.discovered)
	return out
}

// Register publishes every discovered tool into the shared registry under
// its exposed name. A name already held by another owner is logged and
// skipped; re-registering this set's own names is a no-op. Returns the
// number of tools now registered by this set.
func (t *ToolSet) Register() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	serverName := t.conn.Name()
	current := make(map[string]bool, len(t.discovered))

	for _, def := range t.discovered {
		exposed := ExposedName(def.Name)
		current[exposed] = true

		tool := registry.Tool{
			Name:        exposed,
			Description: t.describeTool(def),
			Parameters:  parametersFromSchema(def.InputSchema),
			Execute:     t.executor(def.Name),
		}

		if !t.reg.Register(serverName, tool) {
			owner, _ := t.reg.Owner(exposed)
			t.log.Warn("tool name already registered, skipping",
				"name", exposed, "owner", owner)
			continue
		}
		t.registered[exposed] = true
	}

	// Drop registry entries for tools the server no longer advertises.
	for exposed := range t.registered {
		if current[exposed] {
			continue
		}
		t.reg.Unregister(serverName, exposed)
		delete(t.registered, exposed)
		t.log.Info("removed stale tool", "name", exposed)
	}

	t.log.Info("registered tools", "count", len(t.registered))
	return len(t.registered)
}

// Unregister withdraws every tool this set registered. Names held by other
// owners are untouched.
func (t *ToolSet) Unregister() {
	t.mu.Lock()
	defer t.mu.Unlock()

	serverName := t.conn.Name()
	for exposed := range t.registered {
		t.reg.Unregister(serverName, exposed)
		delete(t.registered, exposed)
	}
}

// Execute invokes the named server tool. It never returns an error: every
// failure mode — permission denial, transport failure, server-reported tool
// error — is folded into the Result so one bad call cannot abort a caller
// driving several tools.
func (t *ToolSet) Execute(ctx context.Context, toolName string, args map[string]any) registry.Result {
	serverName := t.conn.Name()

	if t.eval != nil && !t.eval.IsToolAllowed(serverName, toolName) {
		t.log.Warn("tool call denied by permissions", "tool", toolName)
		return registry.Result{
			Success: false,
			Error:   fmt.Sprintf("permission denied for tool %q on server %q", toolName, serverName),
		}
	}

	raw, err := t.conn.Call(ctx, MethodToolsCall, ToolCallParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.log.Error("tool call failed", "tool", toolName, "error", err)
		return registry.Result{Success: false, Error: err.Error()}
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.log.Error("tool call returned unparseable result", "tool", toolName, "error", err)
		return registry.Result{Success: false, Error: fmt.Sprintf("parse tool result: %v", err)}
	}

	if result.IsError {
		return registry.Result{Success: false, Error: errorText(result.Content)}
	}
	return registry.Result{Success: true, Data: result.Content}
}

// Watch subscribes to the server's list_changed notifications and re-runs
// discovery and registration each time one arrives. Returns immediately;
// the watch stops when the connection closes or StopWatch is called.
func (t *ToolSet) Watch(ctx context.Context) error {
	sub, err := t.conn.Subscribe(NotifyToolsListChanged)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.watchSub = sub
	t.watchDone = make(chan struct{})
	done := t.watchDone
	t.mu.Unlock()

	// The watch outlives the caller's context: a startup deadline must not
	// poison rediscovery later in the connection's life. The goroutine ends
	// when the subscription channel closes.
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		for range sub.C {
			t.log.Info("tool list changed, rediscovering")
			if err := t.Discover(ctx); err != nil {
				t.log.Warn("rediscovery failed", "error", err)
				continue
			}
			t.Register()
		}
	}()
	return nil
}

// StopWatch cancels the list_changed watch started by Watch.
func (t *ToolSet) StopWatch() {
	t.mu.Lock()
	sub := t.watchSub
	done := t.watchDone
	t.watchSub = nil
	t.watchDone = nil
	t.mu.Unlock()

	if sub == nil {
		return
	}
	t.conn.Unsubscribe(sub)
	if done != nil {
		<-done
	}
}

// executor binds a server tool name into a registry Execute func.
func (t *ToolSet) executor(toolName string) func(context.Context, map[string]any) registry.Result {
	return func(ctx context.Context, args map[string]any) registry.Result {
		return t.Execute(ctx, toolName, args)
	}
}

func (t *ToolSet) describeTool(def ToolDefinition) string {
	if def.Description != "" {
		return def.Description
	}
	return fmt.Sprintf("Tool %q provided by server %q", def.Name, t.conn.Name())
}

// parametersFromSchema flattens a JSON Schema object declaration into the
// registry's parameter model. Unknown or missing types degrade to string
// rather than failing discovery.
func parametersFromSchema(schema *InputSchema) []registry.Parameter {
	if schema == nil || len(schema.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	params := make([]registry.Parameter, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		desc := prop.Description
		if desc == "" {
			desc = fmt.Sprintf("Parameter %q", name)
		}
		params = append(params, registry.Parameter{
			Name:        name,
			Type:        paramType(prop.Type),
			Description: desc,
			Required:    required[name],
		})
	}
	return params
}

func paramType(schemaType string) registry.ParamType {
	switch schemaType {
	case "number", "integer":
		return registry.ParamNumber
	case "boolean":
		return registry.ParamBool
	case "array":
		return registry.ParamArray
	default:
		return registry.ParamString
	}
}

// errorText extracts the first text block from an error result's content.
func errorText(content []ContentItem) string {
	for _, item := range content {
		if item.Type == "text" && item.Text != "" {
			return item.Text
		}
	}
	return "tool execution failed"
}
