// Package manager orchestrates the lifecycle of configured tool servers:
// spawning connections, bridging discovered tools into the shared registry,
// and tearing everything down again.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zhubert/tether/config"
	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/mcp"
	"github.com/zhubert/tether/permission"
	"github.com/zhubert/tether/registry"
)

// server bundles one running connection with its registry bridge.
type server struct {
	conn *mcp.Connection
	set  *mcp.ToolSet
}

// Manager owns every running tool-server connection. Servers start and stop
// independently: one server failing to start, or being stopped, never
// affects the others.
type Manager struct {
	store *config.Store
	reg   *registry.Registry
	eval  *permission.Evaluator
	log   *slog.Logger

	mu       sync.Mutex
	running  map[string]*server
	starting map[string]bool // names reserved by an in-flight start
}

// New creates a manager over the given config store and registry.
// globalRules is the host-wide permission rule list; each server's own
// rules come from its config.
func New(store *config.Store, reg *registry.Registry, globalRules []string) *Manager {
	m := &Manager{
		store:    store,
		reg:      reg,
		log:      logger.WithComponent("manager"),
		running:  make(map[string]*server),
		starting: make(map[string]bool),
	}
	m.eval = permission.NewEvaluator(globalRules, m.rulesFor)
	return m
}

// Evaluator returns the permission evaluator the manager gates calls with.
func (m *Manager) Evaluator() *permission.Evaluator {
	return m.eval
}

// rulesFor resolves a server's own permission rules. Running servers answer
// from their connection config; otherwise the store is consulted so rules
// can be checked before a server starts.
func (m *Manager) rulesFor(serverName string) []permission.Rule {
	m.mu.Lock()
	srv, ok := m.running[serverName]
	m.mu.Unlock()

	if ok {
		return permission.ParseRules(srv.conn.Config().Permissions)
	}
	cfg, err := m.store.Load(serverName)
	if err != nil {
		return nil
	}
	return permission.ParseRules(cfg.Permissions)
}

// StartServer connects the named server, discovers its tools, and publishes
// them in the registry. Starting an already-running server, or one another
// caller is currently starting, is a no-op. Disabled servers are refused.
func (m *Manager) StartServer(ctx context.Context, name string) error {
	cfg, err := m.store.Load(name)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return fmt.Errorf("server %q is disabled", name)
	}
	_, err = m.start(ctx, cfg)
	return err
}

// reserve claims a server name for one in-flight start. Returns false when
// the server is already running or another start holds the reservation, so
// concurrent starts can never spawn the same server twice.
func (m *Manager) reserve(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[name]; ok {
		return false
	}
	if m.starting[name] {
		return false
	}
	m.starting[name] = true
	return true
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.starting, name)
	m.mu.Unlock()
}

// StartAll starts every enabled server in the store. A server that fails to
// start is logged and skipped so the rest still come up. Returns the number
// of servers started.
func (m *Manager) StartAll(ctx context.Context) int {
	configs, err := m.store.LoadAll()
	if err != nil {
		m.log.Error("failed to load server configs", "error", err)
		return 0
	}

	started := 0
	for _, cfg := range configs {
		if !cfg.Enabled {
			m.log.Debug("skipping disabled server", "name", cfg.Name)
			continue
		}
		ok, err := m.start(ctx, cfg)
		if err != nil {
			m.log.Error("failed to start server",
				"name", cfg.Name, "command", cfg.Command, "error", err)
			continue
		}
		if ok {
			started++
		}
	}
	return started
}

// start spawns one server under its name reservation. Returns false with a
// nil error when the server was already running or starting.
func (m *Manager) start(ctx context.Context, cfg config.ServerConfig) (bool, error) {
	if !m.reserve(cfg.Name) {
		return false, nil
	}
	defer m.release(cfg.Name)

	conn := mcp.NewConnection(cfg)
	if err := conn.Connect(ctx); err != nil {
		return false, err
	}

	set := mcp.NewToolSet(conn, m.reg, m.eval)
	if err := set.Discover(ctx); err != nil {
		conn.Disconnect()
		return false, err
	}
	count := set.Register()

	if err := set.Watch(ctx); err != nil {
		m.log.Warn("could not watch for tool list changes", "name", cfg.Name, "error", err)
	}

	m.mu.Lock()
	m.running[cfg.Name] = &server{conn: conn, set: set}
	m.mu.Unlock()

	m.log.Info("server started", "name", cfg.Name, "tools", count)
	return true, nil
}

// StopServer withdraws the named server's tools and terminates its process.
// Stopping a server that is not running is a no-op.
func (m *Manager) StopServer(name string) {
	m.mu.Lock()
	srv, ok := m.running[name]
	delete(m.running, name)
	m.mu.Unlock()

	if !ok {
		return
	}

	srv.set.StopWatch()
	srv.set.Unregister()
	srv.conn.Disconnect()
	m.log.Info("server stopped", "name", name)
}

// StopAll stops every running server.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.StopServer(name)
	}
}

// IsRunning reports whether the named server has a live connection.
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	srv, ok := m.running[name]
	m.mu.Unlock()
	return ok && srv.conn.IsConnected()
}

// Tools returns the discovered tool catalog of a running server.
func (m *Manager) Tools(name string) ([]mcp.ToolDefinition, error) {
	m.mu.Lock()
	srv, ok := m.running[name]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("server %q is not running", name)
	}
	return srv.set.Tools(), nil
}

// CallTool invokes a registered tool by its exposed name. Failures are
// folded into the result rather than returned, matching the registry's
// execution contract.
func (m *Manager) CallTool(ctx context.Context, exposedName string, args map[string]any) registry.Result {
	tool, ok := m.reg.Get(exposedName)
	if !ok {
		return registry.Result{
			Success: false,
			Error:   fmt.Sprintf("unknown tool %q", exposedName),
		}
	}
	return tool.Execute(ctx, args)
}

// ServerStatus describes one running server for status listings.
type ServerStatus struct {
	Name      string
	Connected bool
	Tools     int
	Info      mcp.ServerInfo
}

// Status reports every running server, sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.running))
	for name, srv := range m.running {
		out = append(out, ServerStatus{
			Name:      name,
			Connected: srv.conn.IsConnected(),
			Tools:     len(srv.set.Tools()),
			Info:      srv.conn.ServerInfo(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
