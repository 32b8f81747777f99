package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "meldtp"
	appVersion = "0.1.0"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Touch Portal plugin for Meld Studio",
		Long: `meldtp bridges Touch Portal and Meld Studio:
  - runs as a Touch Portal plugin (the default when no command is given)
  - turns button presses into Meld remote calls
  - mirrors Meld state and dynamic lists back into Touch Portal`,
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPlugin,
	}

	root.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/meldtp/config.kdl)")
	addPluginFlags(root)

	root.AddCommand(newRunCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newConfigCmd())

	root.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
