package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/config"
)

var (
	addCommand     string
	addArgs        []string
	addEnv         []string
	addTimeoutMs   int
	addDisabled    bool
	addPermissions []string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage tool server configurations",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a server configuration",
	Example: `  tether servers add fs --command mcp-fs --arg --root --arg /srv
  tether servers add gh --command mcp-github --env GITHUB_TOKEN=secret \
      --permission "deny:mcp__gh__delete_*"`,
	Args: cobra.ExactArgs(1),
	RunE: runServersAdd,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersRemove,
}

var serversEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a configured server",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(true),
}

var serversDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a configured server without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(false),
}

func init() {
	serversAddCmd.Flags().StringVar(&addCommand, "command", "", "Executable to spawn (required)")
	serversAddCmd.Flags().StringArrayVar(&addArgs, "arg", nil, "Argument passed to the command, repeatable")
	serversAddCmd.Flags().StringArrayVar(&addEnv, "env", nil, "KEY=VALUE environment overlay entry, repeatable")
	serversAddCmd.Flags().IntVar(&addTimeoutMs, "timeout", 0, "Per-request timeout in milliseconds")
	serversAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Create the server disabled")
	serversAddCmd.Flags().StringArrayVar(&addPermissions, "permission", nil,
		"Server permission rule (allow:pattern or deny:pattern), repeatable")
	serversAddCmd.MarkFlagRequired("command")

	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd, serversEnableCmd, serversDisableCmd)
	rootCmd.AddCommand(serversCmd)
}

func runServersList(cmd *cobra.Command, args []string) error {
	store, err := newStore()
	if err != nil {
		return err
	}
	configs, err := store.LoadAll()
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No servers configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tCOMMAND\tTIMEOUT\tRULES")
	for _, cfg := range configs {
		command := cfg.Command
		if len(cfg.Args) > 0 {
			command += " " + strings.Join(cfg.Args, " ")
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%dms\t%d\n",
			cfg.Name, cfg.Enabled, command, cfg.TimeoutMs, len(cfg.Permissions))
	}
	return w.Flush()
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	env, err := parseEnvPairs(addEnv)
	if err != nil {
		return err
	}

	store, err := newStore()
	if err != nil {
		return err
	}

	cfg := config.ServerConfig{
		Name:        args[0],
		Command:     addCommand,
		Args:        addArgs,
		Env:         env,
		Enabled:     !addDisabled,
		TimeoutMs:   addTimeoutMs,
		Permissions: addPermissions,
	}
	if err := store.Save(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved server %q.\n", cfg.Name)
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	store, err := newStore()
	if err != nil {
		return err
	}
	if err := store.Remove(args[0]); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no server named %q", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed server %q.\n", args[0])
	return nil
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		cfg, err := store.Load(args[0])
		if err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return fmt.Errorf("no server named %q", args[0])
			}
			return err
		}
		cfg.Enabled = enabled
		if err := store.Save(cfg); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server %q %s.\n", cfg.Name, state)
		return nil
	}
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env entry %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
