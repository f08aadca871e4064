package cmd

import (
	"fmt"
	"runtime"

	"github.com/nano-cluster/nano-compose/pkg/compose"
	"github.com/nano-cluster/nano-compose/pkg/supervisor"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "nano-compose version %s\n", compose.GetVersion())
		fmt.Fprintf(out, "  go:                  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  parent death signal: %t\n", supervisor.ParentDeathSignal())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
