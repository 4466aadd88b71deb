package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/manager"
	"github.com/zhubert/tether/mcp"
	"github.com/zhubert/tether/registry"
)

var (
	callArgs []string
	callJSON string
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool>",
	Short: "Spawn a server and invoke one of its tools",
	Long: `Spawns the named server, calls the named tool, and prints the content
it returns. Arguments are given either as repeated key=value pairs or
as a single JSON object.

Values given with --arg are passed as strings unless they parse as
JSON, so numbers and booleans come through typed.`,
	Example: `  tether call fs read --arg path=/tmp/x
  tether call fs read --json '{"path": "/tmp/x", "limit": 512}'`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringArrayVar(&callArgs, "arg", nil, "Tool argument as key=value, repeatable")
	callCmd.Flags().StringVar(&callJSON, "json", "", "Tool arguments as one JSON object")
	callCmd.MarkFlagsMutuallyExclusive("arg", "json")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	arguments, err := parseToolArgs(callArgs, callJSON)
	if err != nil {
		return err
	}

	store, err := newStore()
	if err != nil {
		return err
	}

	reg := registry.New()
	mgr := manager.New(store, reg, globalRules)
	defer mgr.StopAll()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	serverName, toolName := args[0], args[1]
	if err := mgr.StartServer(ctx, serverName); err != nil {
		return err
	}

	res := mgr.CallTool(ctx, mcp.ExposedName(toolName), arguments)
	if !res.Success {
		return fmt.Errorf("tool %q on %q failed: %s", toolName, serverName, res.Error)
	}

	printResult(cmd, res)
	return nil
}

func printResult(cmd *cobra.Command, res registry.Result) {
	content, ok := res.Data.([]mcp.ContentItem)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", res.Data)
		return
	}
	for _, item := range content {
		if item.Type == "text" {
			fmt.Fprintln(cmd.OutOrStdout(), item.Text)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s content]\n", item.Type)
		}
	}
}

// parseToolArgs builds the argument map from either form. key=value values
// that parse as JSON keep their type; everything else is a string.
func parseToolArgs(pairs []string, raw string) (map[string]any, error) {
	if raw != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid --json value: %w", err)
		}
		return args, nil
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, want key=value", pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			args[key] = typed
		} else {
			args[key] = value
		}
	}
	return args, nil
}
