// Package config persists tool-server definitions as one YAML file per
// server inside a dedicated configuration directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/tether/logger"
)

// DefaultTimeoutMs is the per-request timeout applied when a server config
// does not set one.
const DefaultTimeoutMs = 30000

// ErrNotFound is returned when a named server has no config file.
var ErrNotFound = errors.New("server config not found")

// ServerConfig describes one externally-spawned tool server.
type ServerConfig struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Enabled     bool              `yaml:"enabled"`
	TimeoutMs   int               `yaml:"timeout,omitempty"`
	Permissions []string          `yaml:"permissions,omitempty"`
}

// Validate checks that required fields are present.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("server %q: missing command", c.Name)
	}
	return nil
}

// applyDefaults fills in zero values after unmarshaling.
func (c *ServerConfig) applyDefaults() {
	if c.Args == nil {
		c.Args = []string{}
	}
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
}

// Store reads and writes server configs under a single directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store over the given directory. The directory is
// created on first Save, not here, so a read-only store over a missing
// directory simply reports no servers.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory this store operates on.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Load reads one server's config by name.
func (s *Store) Load(name string) (ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadFile(s.pathFor(name))
}

func (s *Store) loadFile(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ServerConfig{}, ErrNotFound
	}
	if err != nil {
		return ServerConfig{}, err
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadAll reads every server config in the directory, sorted by name.
// Unparsable or invalid files are logged and skipped so one broken file
// does not take down the whole host.
func (s *Store) LoadAll() ([]ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []ServerConfig{}, nil
	}
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("config")
	var configs []ServerConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := s.loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			log.Warn("skipping unreadable server config", "file", entry.Name(), "error", err)
			continue
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Name < configs[j].Name
	})
	return configs, nil
}

// Save writes the full config back as the server's file contents,
// creating the directory if needed.
func (s *Store) Save(cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.applyDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create config directory %s: %w", s.dir, err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(cfg.Name), data, 0644)
}

// Remove deletes a server's config file.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.pathFor(name))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}
