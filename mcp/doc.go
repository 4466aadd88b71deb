// Package mcp speaks the Model Context Protocol to externally-spawned tool
// server processes.
//
// The package is organized bottom-up:
//
//   - Client frames JSON-RPC 2.0 requests and notifications as
//     newline-delimited JSON over a byte stream, and correlates responses to
//     outstanding requests purely by identifier.
//   - Connection owns one spawned server process: spawn, the
//     initialize/initialized handshake, stderr capture, and teardown.
//   - ToolSet discovers the tools a connected server exposes, bridges each
//     one into the host's shared tool registry, and executes remote
//     invocations behind the permission gate.
//
// Multiple connections operate fully independently; all coordination on one
// connection happens through the Client's pending-request table.
package mcp
