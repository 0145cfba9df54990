// Command relaybot runs the Telegram relay between customers and the
// operator and offers offline maintenance of its state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/relaybot/core/buildinfo"
)

const defaultConfigPath = "config.yaml"

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "relaybot",
		Short: "Relay customer questions to a single Telegram operator",
		Long: `relaybot shows product cards from the catalog, opens help sessions on
request and relays messages between customers and the operator. Operator
replies are routed back by the tag on the forwarded message.

The config path comes from --config, then CONFIG_PATH, then ./config.yaml.
Variables already set in the environment win over the env file.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(flags),
		newMigrateCmd(flags),
		newSessionsCmd(flags),
		newBlockedCmd(flags),
		newUnblockCmd(flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
