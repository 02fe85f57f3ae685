package cmd

import (
	"fmt"
	pathpkg "path/filepath"
	"sort"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"elfscope/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the most recent elfscope debug log",
	Long: `Print the most recent elfscope debug log from the current directory.
Log files are written when ELFSCOPE_LOG_TO_FILE=1 is set.`,
	Example: `
# Print the newest debug log
elfscope logs

# Keep following it as the tool runs
elfscope logs -f
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		// Timestamped names sort chronologically
		matches, err := pathpkg.Glob("elfscope-*-debug.log")
		if err != nil {
			return fmt.Errorf("failed to scan for log files: %v", err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no debug logs found; run with ELFSCOPE_LOG_TO_FILE=1 first")
		}
		sort.Strings(matches)
		newest := matches[len(matches)-1]

		lg := logging.NewLogger()
		defer lg.Close()
		lg.Info("reading log file", "path", newest)

		t, err := tail.TailFile(newest, tail.Config{Follow: follow, ReOpen: follow})
		if err != nil {
			return fmt.Errorf("failed to tail %s: %v", newest, err)
		}
		defer t.Cleanup()

		for line := range t.Lines {
			if line.Err != nil {
				return line.Err
			}
			fmt.Println(line.Text)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Keep following the log as it grows")
	rootCmd.AddCommand(logsCmd)
}
