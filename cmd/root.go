package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/config"
	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/paths"
)

var (
	debugMode             bool
	globalRules           []string
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Run external tool servers as permissioned capability providers",
	Long: `tether spawns configured tool-server processes, speaks JSON-RPC with
them over stdio, and exposes the tools they advertise behind wildcard
allow/deny permission rules.

Server configs live as one YAML file each under the servers config
directory. Logs go to a file so the servers keep exclusive use of the
standard streams.`,
	Example: `  tether servers list                       # Show configured servers
  tether servers add fs --command mcp-fs    # Configure a server
  tether tools fs                           # Spawn fs and list its tools
  tether call fs read --arg path=/tmp/x     # Invoke one tool
  tether check fs read                      # Evaluate permissions only`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringArrayVar(&globalRules, "rule", nil,
		"Global permission rule (allow:pattern or deny:pattern), repeatable")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func initLogging() {
	logger.SetDebug(debugMode)
}

// newStore opens the server config store at its standard location.
func newStore() (*config.Store, error) {
	dir, err := paths.ServersDir()
	if err != nil {
		return nil, fmt.Errorf("resolve servers directory: %w", err)
	}
	return config.NewStore(dir), nil
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	defer logger.Close()
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("tether %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("tether %s\n", version)
}
