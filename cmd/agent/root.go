// Package agent is the cobra entrypoint: flag wiring, config loading and the
// agent's run loop.
package agent

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unraid-agent/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "unraid-agent",
	Short: "Telemetry agent that republishes Unraid server state over MQTT discovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := run(cmd.Context(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "path to config file")
	initServerFlags(rootCmd)
	initMQTTFlags(rootCmd)
	initLogFlags(rootCmd)
}
