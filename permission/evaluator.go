// Package permission gates tool invocations behind layered allow/deny rules.
//
// Rules are wildcard patterns matched against fully-qualified tool names of
// the form mcp__<server>__<tool>. Each server carries its own rule list and
// the host carries a global one; a call must pass both. Deny rules always win
// within a layer, and an empty layer is permissive.
package permission

import (
	"fmt"
	"log/slog"

	"github.com/zhubert/tether/logger"
)

// Namespace is the leading segment of every fully-qualified tool name.
const Namespace = "mcp"

// FullyQualifiedName builds the identifier permission rules are matched
// against: mcp__<server>__<tool>.
func FullyQualifiedName(serverName, toolName string) string {
	return fmt.Sprintf("%s__%s__%s", Namespace, serverName, toolName)
}

// ServerRulesFunc returns the parsed rule list for a named server.
// Returning nil means that server has no rules of its own.
type ServerRulesFunc func(serverName string) []Rule

// Evaluator combines per-server rule lists with a process-wide global list.
type Evaluator struct {
	global      []Rule
	serverRules ServerRulesFunc
	log         *slog.Logger
}

// NewEvaluator creates an evaluator. globalRaw is the process-wide rule list
// in raw string form; serverRules supplies each server's own rules and may be
// nil when servers carry no rules.
func NewEvaluator(globalRaw []string, serverRules ServerRulesFunc) *Evaluator {
	return &Evaluator{
		global:      ParseRules(globalRaw),
		serverRules: serverRules,
		log:         logger.WithComponent("permission"),
	}
}

// IsToolAllowed reports whether the named tool on the named server may be
// invoked. The server's own rules are consulted first; if they reject the
// name, the global list is never evaluated. Both layers must allow the call.
func (e *Evaluator) IsToolAllowed(serverName, toolName string) bool {
	name := FullyQualifiedName(serverName, toolName)

	if e.serverRules != nil {
		if !Evaluate(name, e.serverRules(serverName)) {
			e.log.Debug("denied by server rules", "name", name)
			return false
		}
	}

	if !Evaluate(name, e.global) {
		e.log.Debug("denied by global rules", "name", name)
		return false
	}
	return true
}
