package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/manager"
	"github.com/zhubert/tether/mcp"
	"github.com/zhubert/tether/registry"
)

var toolsCmd = &cobra.Command{
	Use:   "tools <server>",
	Short: "Spawn a server and list the tools it advertises",
	Args:  cobra.ExactArgs(1),
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	store, err := newStore()
	if err != nil {
		return err
	}

	reg := registry.New()
	mgr := manager.New(store, reg, globalRules)
	defer mgr.StopAll()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	name := args[0]
	if err := mgr.StartServer(ctx, name); err != nil {
		return err
	}

	tools, err := mgr.Tools(name)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Server %q advertises no tools.\n", name)
		return nil
	}

	eval := mgr.Evaluator()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tEXPOSED AS\tALLOWED\tPARAMETERS\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			tool.Name,
			mcp.ExposedName(tool.Name),
			eval.IsToolAllowed(name, tool.Name),
			formatSchemaParams(tool.InputSchema),
			tool.Description)
	}
	return w.Flush()
}

func formatSchemaParams(schema *mcp.InputSchema) string {
	if schema == nil || len(schema.Properties) == 0 {
		return "-"
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if required[name] {
			parts = append(parts, name+"*")
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}
