package cmd

import (
	"fmt"

	"github.com/encodeous/srmesh/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [node config]",
	Short: "Validates a node configuration and prints it with defaults filled in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadNodeConfig(args[0])
		if err != nil {
			return err
		}
		cfgYaml, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Config is valid")
		fmt.Fprint(cmd.OutOrStdout(), string(cfgYaml))
		return nil
	},
	GroupID: "tools",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
