package cmd

import (
	"fmt"
	"strings"

	"github.com/nano-cluster/nano-compose/internal/render"
	"github.com/nano-cluster/nano-compose/pkg/capability"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print who may call whom",
	Long: `check loads and validates the configuration file without starting any
module, then prints every module's launch command and the capability matrix:
one row per caller, one column per callee.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d modules\n", configPath(), len(cfg.Modules))
	for _, m := range cfg.Modules {
		fmt.Fprintf(out, "  %-16s %s\n", m.Name, strings.Join(m.Fork, " "))
	}
	fmt.Fprintln(out)

	return render.CapabilityMatrix(out, capability.FromConfig(cfg))
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
