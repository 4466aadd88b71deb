package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/manager"
	"github.com/zhubert/tether/permission"
	"github.com/zhubert/tether/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check <server> <tool>",
	Short: "Evaluate permission rules for a tool without spawning anything",
	Example: `  tether check fs read
  tether check gh delete_repo --rule "deny:mcp__gh__delete_*"`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	store, err := newStore()
	if err != nil {
		return err
	}

	// The manager resolves server rules from the store, so no process is
	// spawned for a pure permission check.
	mgr := manager.New(store, registry.New(), globalRules)

	serverName, toolName := args[0], args[1]
	name := permission.FullyQualifiedName(serverName, toolName)

	if mgr.Evaluator().IsToolAllowed(serverName, toolName) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: allowed\n", name)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: denied\n", name)
	return nil
}
