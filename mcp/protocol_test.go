package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestMarshal(t *testing.T) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      int64(3),
		Method:  MethodToolsCall,
		Params:  ToolCallParams{Name: "read", Arguments: map[string]any{"path": "/tmp/x"}},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	got := string(data)

	for _, want := range []string{`"jsonrpc":"2.0"`, `"id":3`, `"method":"tools/call"`, `"path":"/tmp/x"`} {
		if !strings.Contains(got, want) {
			t.Errorf("request %s missing %s", got, want)
		}
	}
}

func TestNotificationOmitsID(t *testing.T) {
	req := JSONRPCRequest{JSONRPC: "2.0", Method: NotifyInitialized, Params: struct{}{}}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	if strings.Contains(string(data), `"id"`) {
		t.Errorf("notification %s carries an id", data)
	}
}

func TestInitializeResultUnmarshal(t *testing.T) {
	raw := `{
		"protocolVersion": "2025-06-18",
		"capabilities": {"tools": {"listChanged": true}},
		"serverInfo": {"name": "fs", "version": "1.2.0"},
		"instructions": "read-only access"
	}`

	var result InitializeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.ProtocolVersion != "2025-06-18" {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, "2025-06-18")
	}
	if result.ServerInfo.Name != "fs" {
		t.Errorf("ServerInfo.Name = %q, want %q", result.ServerInfo.Name, "fs")
	}
	if result.Capabilities.Tools == nil || !result.Capabilities.Tools.ListChanged {
		t.Error("tools capability not parsed")
	}
}

func TestToolsListResultUnmarshal(t *testing.T) {
	raw := `{"tools": [{
		"name": "read",
		"description": "Read a file",
		"inputSchema": {
			"type": "object",
			"properties": {"path": {"type": "string", "description": "File path"}},
			"required": ["path"]
		}
	}]}`

	var result ToolsListResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("len(Tools) = %d, want 1", len(result.Tools))
	}
	tool := result.Tools[0]
	if tool.Name != "read" {
		t.Errorf("Name = %q, want %q", tool.Name, "read")
	}
	if tool.InputSchema == nil || tool.InputSchema.Properties["path"].Type != "string" {
		t.Errorf("input schema not parsed: %+v", tool.InputSchema)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "path" {
		t.Errorf("Required = %v, want [path]", tool.InputSchema.Required)
	}
}

func TestRPCErrorString(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "method not found"}
	got := err.Error()
	if !strings.Contains(got, "-32601") || !strings.Contains(got, "method not found") {
		t.Errorf("Error() = %q, want code and message", got)
	}
}
