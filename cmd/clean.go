package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/logger"
)

var cleanSkipConfirm bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove tether log files",
	Long: `Removes the main log file and the per-server stderr capture files.

It will prompt for confirmation before proceeding unless the --yes flag is used.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	if !cleanSkipConfirm {
		if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove all log files?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	// The open log file would be recreated by the next write, so release it
	// before removing.
	logger.Close()

	count, err := logger.ClearLogs()
	if err != nil {
		return fmt.Errorf("clearing logs: %w", err)
	}
	if count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clean.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", count)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
