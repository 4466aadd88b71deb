package mcp

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 message types for the MCP protocol

// Protocol constants sent during the initialize handshake.
const (
	ProtocolVersion = "2025-06-18"
	ClientName      = "tether"
	ClientVersion   = "1.0.0"
)

// JSONRPCRequest represents an outgoing JSON-RPC request or notification.
// Notifications carry no ID.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents an incoming JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so server-reported failures can be
// returned directly from Call.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// MCP protocol specific types

// InitializeParams for the initialize method
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    Capability `json:"capabilities"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// Capability declares which protocol features each side supports.
type Capability struct {
	Tools       *ToolCapability `json:"tools,omitempty"`
	Resources   map[string]any  `json:"resources,omitempty"`
	Prompts     map[string]any  `json:"prompts,omitempty"`
	Sampling    map[string]any  `json:"sampling,omitempty"`
	Elicitation map[string]any  `json:"elicitation,omitempty"`
}

// ToolCapability represents tool-related capabilities
type ToolCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientInfo identifies the host to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeResult for the initialize response
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    Capability `json:"capabilities"`
	ServerInfo      ServerInfo `json:"serverInfo"`
	Instructions    string     `json:"instructions,omitempty"`
}

// ServerInfo identifies the server to the host.
type ServerInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ToolsListResult for tools/list response
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolDefinition describes one tool a server exposes.
type ToolDefinition struct {
	Name         string       `json:"name"`
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	InputSchema  *InputSchema `json:"inputSchema,omitempty"`
	OutputSchema *InputSchema `json:"outputSchema,omitempty"`
}

// InputSchema represents the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property represents a property in the input schema
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolCallParams represents parameters for tools/call
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult represents the result of a tool call
type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem represents content in a tool result
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notification is an inbound frame carrying a method but no identifier,
// dispatched to subscribers.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Well-known method and notification names.
const (
	MethodInitialize       = "initialize"
	MethodToolsList        = "tools/list"
	MethodToolsCall        = "tools/call"
	NotifyInitialized      = "notifications/initialized"
	NotifyToolsListChanged = "notifications/tools/list_changed"
)
