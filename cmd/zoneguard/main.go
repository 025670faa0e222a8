package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "zoneguard",
		Short: "Multi-zone security controller",
		Long: `Zoneguard scores sensor activity against the arming mode, drives the
door and window locks and the buzzer, and reports over MQTT or Kafka.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "config.yml", "Path to configuration file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newOutboxCommand(opts))
	cmd.AddCommand(newNVSCommand(opts))

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
