package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/mcp"
	"github.com/zhubert/tether/paths"
)

func setupTestHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	logger.Reset()
	t.Cleanup(func() {
		logger.Reset()
		paths.Reset()
	})
}

// ---- parseEnvPairs ----

func TestParseEnvPairs(t *testing.T) {
	got, err := parseEnvPairs([]string{"A=1", "B=x=y"})
	if err != nil {
		t.Fatalf("parseEnvPairs() error = %v", err)
	}
	want := map[string]string{"A": "1", "B": "x=y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseEnvPairs() = %v, want %v", got, want)
	}
}

func TestParseEnvPairs_Empty(t *testing.T) {
	got, err := parseEnvPairs(nil)
	if err != nil {
		t.Fatalf("parseEnvPairs(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("parseEnvPairs(nil) = %v, want nil", got)
	}
}

func TestParseEnvPairs_Invalid(t *testing.T) {
	for _, pair := range []string{"NOEQUALS", "=value"} {
		if _, err := parseEnvPairs([]string{pair}); err == nil {
			t.Errorf("parseEnvPairs(%q) error = nil, want failure", pair)
		}
	}
}

// ---- parseToolArgs ----

func TestParseToolArgs_KeyValue(t *testing.T) {
	got, err := parseToolArgs([]string{"path=/tmp/x", "limit=512", "force=true", "label=plain"}, "")
	if err != nil {
		t.Fatalf("parseToolArgs() error = %v", err)
	}

	if got["path"] != "/tmp/x" {
		t.Errorf("path = %v, want /tmp/x", got["path"])
	}
	if got["limit"] != float64(512) {
		t.Errorf("limit = %v (%T), want 512 as a number", got["limit"], got["limit"])
	}
	if got["force"] != true {
		t.Errorf("force = %v, want true", got["force"])
	}
	if got["label"] != "plain" {
		t.Errorf("label = %v, want plain string", got["label"])
	}
}

func TestParseToolArgs_JSON(t *testing.T) {
	got, err := parseToolArgs(nil, `{"path": "/tmp/x", "limit": 512}`)
	if err != nil {
		t.Fatalf("parseToolArgs() error = %v", err)
	}
	if got["path"] != "/tmp/x" || got["limit"] != float64(512) {
		t.Errorf("parseToolArgs() = %v", got)
	}
}

func TestParseToolArgs_BadJSON(t *testing.T) {
	if _, err := parseToolArgs(nil, "{not json"); err == nil {
		t.Error("parseToolArgs() error = nil, want JSON failure")
	}
}

func TestParseToolArgs_BadPair(t *testing.T) {
	if _, err := parseToolArgs([]string{"noequals"}, ""); err == nil {
		t.Error("parseToolArgs() error = nil, want key=value failure")
	}
}

// ---- formatSchemaParams ----

func TestFormatSchemaParams(t *testing.T) {
	schema := &mcp.InputSchema{
		Type: "object",
		Properties: map[string]mcp.Property{
			"path":  {Type: "string"},
			"limit": {Type: "integer"},
		},
		Required: []string{"path"},
	}
	got := formatSchemaParams(schema)
	if got != "limit, path*" {
		t.Errorf("formatSchemaParams() = %q, want %q", got, "limit, path*")
	}
}

func TestFormatSchemaParams_NoSchema(t *testing.T) {
	if got := formatSchemaParams(nil); got != "-" {
		t.Errorf("formatSchemaParams(nil) = %q, want -", got)
	}
}

// ---- confirm ----

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		got := confirm(strings.NewReader(tt.input), io.Discard, "Continue?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCleanCommand(t *testing.T) {
	setupTestHome(t)

	path, err := logger.ServerLogPath("fs")
	if err != nil {
		t.Fatalf("ServerLogPath() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("boom\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cleanCmd.SetOut(&out)
	cleanSkipConfirm = true
	defer func() {
		cleanCmd.SetOut(nil)
		cleanSkipConfirm = false
	}()

	if err := runClean(cleanCmd, nil); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s still exists after clean", path)
	}
	if !strings.Contains(out.String(), "Removed") {
		t.Errorf("output = %q, want removal summary", out.String())
	}
}

// ---- newStore ----

func TestNewStore(t *testing.T) {
	setupTestHome(t)

	store, err := newStore()
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if store.Dir() == "" {
		t.Error("store dir is empty")
	}
}
