package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/tether/config"
	"github.com/zhubert/tether/logger"
)

// stopGracePeriod is how long Disconnect waits for the process to exit after
// stdin closes before force-killing it.
const stopGracePeriod = 2 * time.Second

var (
	// ErrInvalidConfig indicates the server config carries no command to spawn.
	ErrInvalidConfig = errors.New("invalid server config")

	// ErrNotConnected indicates an operation was attempted on a connection
	// that is closed or was never opened.
	ErrNotConnected = errors.New("not connected")

	// ErrHandshakeFailed indicates the initialize round-trip errored or
	// timed out. The connection is unusable and has been torn down.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrSpawnTimeout indicates the server process exited before reaching a
	// minimally-alive state.
	ErrSpawnTimeout = errors.New("server process exited during startup")
)

// Connection owns the spawn-and-handshake lifecycle for one tool server.
//
// The connection exclusively owns the spawned process handle. Its monitor
// goroutine is the sole caller of cmd.Wait(); Disconnect coordinates through
// the waitDone channel instead of calling Wait itself.
type Connection struct {
	cfg config.ServerConfig
	log *slog.Logger
	id  string

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	client       *Client
	connected    bool
	waitDone     chan struct{}
	serverInfo   ServerInfo
	instructions string

	wg sync.WaitGroup
}

// NewConnection creates a connection for the given server config.
// No process is spawned until Connect is called.
func NewConnection(cfg config.ServerConfig) *Connection {
	id := uuid.NewString()
	return &Connection{
		cfg: cfg,
		id:  id,
		log: logger.WithServer(cfg.Name).With("conn", id[:8]),
	}
}

// Name returns the configured server name.
func (c *Connection) Name() string {
	return c.cfg.Name
}

// Config returns the server config this connection was created with.
func (c *Connection) Config() config.ServerConfig {
	return c.cfg
}

// IsConnected reports whether the handshake has completed and the process
// is still alive.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ServerInfo returns the identity the server reported during the handshake.
func (c *Connection) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Instructions returns the optional usage instructions the server reported
// during the handshake.
func (c *Connection) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// Connect spawns the server process and performs the initialize handshake.
// Calling Connect on an already-open connection is a no-op. No discovery or
// tool-call traffic is issued until the handshake round-trip completes.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.log.Debug("connect called while already connected")
		return nil
	}

	if strings.TrimSpace(c.cfg.Command) == "" {
		c.mu.Unlock()
		return fmt.Errorf("server %q has no command: %w", c.cfg.Name, ErrInvalidConfig)
	}

	c.log.Info("starting server process", "command", c.cfg.Command, "args", strings.Join(c.cfg.Args, " "))

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = overlayEnv(os.Environ(), c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		c.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		c.mu.Unlock()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		c.mu.Unlock()
		c.log.Error("failed to start server process", "command", c.cfg.Command, "error", err)
		return fmt.Errorf("spawn %s: %w", c.cfg.Command, err)
	}

	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	client := NewClient(stdin, stdout, timeout, c.log)
	waitDone := make(chan struct{})

	c.cmd = cmd
	c.stdin = stdin
	c.client = client
	c.waitDone = waitDone
	c.connected = true
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.drainStderr(stderr)
	}()
	go func() {
		defer c.wg.Done()
		c.monitorExit(cmd, client, waitDone)
	}()

	c.log.Info("server process started", "pid", cmd.Process.Pid)

	if err := c.handshake(ctx, client); err != nil {
		// Classify before teardown: Disconnect itself closes waitDone.
		// Give the exit monitor a moment to observe an early death so a
		// crashed process is reported as a spawn failure, not a protocol
		// one. A closed connection already implies the stream ended, so
		// wait longer in that case.
		waitFor := 200 * time.Millisecond
		if errors.Is(err, ErrConnectionClosed) {
			waitFor = stopGracePeriod
		}
		exitedEarly := false
		select {
		case <-waitDone:
			exitedEarly = true
		case <-time.After(waitFor):
		}
		c.Disconnect()
		if exitedEarly {
			c.log.Error("server exited during startup", "command", c.cfg.Command)
			return fmt.Errorf("server %q: %w", c.cfg.Name, ErrSpawnTimeout)
		}
		c.log.Error("handshake failed", "command", c.cfg.Command, "error", err)
		return fmt.Errorf("server %q: %w: %v", c.cfg.Name, ErrHandshakeFailed, err)
	}

	return nil
}

// handshake performs the initialize round-trip and sends the initialized
// notification.
func (c *Connection) handshake(ctx context.Context, client *Client) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capability{
			Tools:       &ToolCapability{ListChanged: true},
			Sampling:    map[string]any{},
			Elicitation: map[string]any{},
		},
		ClientInfo: ClientInfo{
			Name:    ClientName,
			Version: ClientVersion,
		},
	}

	raw, err := client.Call(ctx, MethodInitialize, params)
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.instructions = result.Instructions
	c.mu.Unlock()

	c.log.Info("handshake complete",
		"serverName", result.ServerInfo.Name,
		"serverVersion", result.ServerInfo.Version,
		"protocolVersion", result.ProtocolVersion)

	return client.Notify(NotifyInitialized, struct{}{})
}

// Call forwards a request over the open connection. Fails fast with
// ErrNotConnected once the connection is closed rather than hanging.
func (c *Connection) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return nil, fmt.Errorf("server %q: %w", c.cfg.Name, ErrNotConnected)
	}
	return client.Call(ctx, method, params)
}

// Subscribe registers a notification listener on the open connection.
func (c *Connection) Subscribe(method string) (*Subscription, error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return nil, fmt.Errorf("server %q: %w", c.cfg.Name, ErrNotConnected)
	}
	return client.Subscribe(method), nil
}

// Unsubscribe removes a notification listener and closes its channel.
// A no-op once the connection has been torn down.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client != nil {
		client.Unsubscribe(sub)
	}
}

// Disconnect terminates the server process and rejects all outstanding
// requests with ErrConnectionClosed. Safe to call multiple times.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	client := c.client
	waitDone := c.waitDone
	wasConnected := c.connected
	c.connected = false
	c.cmd = nil
	c.stdin = nil
	c.mu.Unlock()

	if cmd == nil {
		return
	}

	if wasConnected {
		c.log.Info("disconnecting")
	}

	// Closing stdin signals EOF; well-behaved servers exit on their own.
	if stdin != nil {
		stdin.Close()
	}

	if cmd.Process != nil && waitDone != nil {
		select {
		case <-waitDone:
			c.log.Debug("server process exited gracefully")
		case <-time.After(stopGracePeriod):
			c.log.Debug("force killing server process")
			cmd.Process.Kill()
			<-waitDone
		}
	}

	if client != nil {
		client.Close()
	}

	c.wg.Wait()
}

// monitorExit is the sole caller of cmd.Wait(). When the process exits —
// intentionally or not — it closes the client so every outstanding request
// is rejected exactly once.
func (c *Connection) monitorExit(cmd *exec.Cmd, client *Client, waitDone chan struct{}) {
	err := cmd.Wait()
	close(waitDone)

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	client.Close()

	if wasConnected {
		c.log.Warn("server process exited", "error", err)
	} else {
		c.log.Debug("server process exited after disconnect", "error", err)
	}
}

// drainStderr captures the server's stderr into its own log file so startup
// failures can be diagnosed without digging through the host's log. Falls
// back to the structured log when the file cannot be opened.
func (c *Connection) drainStderr(stderr io.ReadCloser) {
	var out io.Writer
	path, err := logger.ServerLogPath(c.cfg.Name)
	if err == nil {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr == nil {
			f, openErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if openErr == nil {
				defer f.Close()
				out = f
			} else {
				err = openErr
			}
		} else {
			err = mkErr
		}
	}
	if out == nil {
		c.log.Warn("failed to open server log file", "error", err)
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if out != nil {
			fmt.Fprintln(out, scanner.Text())
		} else {
			c.log.Debug("server stderr", "line", scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug("error reading server stderr", "error", err)
	}
}

// overlayEnv applies the config's env map on top of the inherited
// environment. Overlay keys replace inherited values.
func overlayEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}
