// Command winmaint lists, runs and manages maintenance scripts.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "winmaint",
		Short: "Run maintenance scripts",
		Long: `winmaint runs maintenance scripts one after another on this machine.

Scripts come from a user directory (see scripts_dir in the config) layered
over the scripts built into the binary. A script with the same name in the
user directory replaces the built-in one.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "winmaint.yaml", "config file (.yaml or .toml)")

	load := func() (*app, error) { return openApp(cfgPath) }
	cmd.AddCommand(
		newListCmd(load),
		newRunCmd(load),
		newAddCmd(load),
		newRemoveCmd(load),
		newServeCmd(load),
		newVersionCmd(),
	)
	return cmd
}

// loader opens the app for one command invocation.
type loader func() (*app, error)
