// Package cli implements the fluxion command line: the serve daemon and the
// client commands that talk to its local API.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

const defaultAddr = "127.0.0.1:8787"

type rootOptions struct {
	addr string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "fluxion",
		Short:   "Fluxion chat client",
		Version: version,
		Long: `Fluxion keeps one live connection to the agent backend, mirrors the
conversation and agent progress locally, and exposes it over a local HTTP API.`,
		Example: `  # Run the client daemon
  $ fluxion serve

  # Send a message through the running daemon
  $ fluxion send "how many orders shipped last week?"

  # Switch the language model
  $ fluxion settings provider chatgpt
  $ fluxion settings model gpt-4

  # Show or clear the conversation
  $ fluxion history show
  $ fluxion history clear`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetVersionTemplate(fmt.Sprintf("fluxion version %s\n", version))

	cmd.PersistentFlags().StringVarP(&opts.addr, "addr", "a", defaultAddr,
		"address of the running fluxion daemon; FLUXION_LISTEN_ADDR overrides the default")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Client commands read the same .env as serve.
		_ = godotenv.Load()
		if f := cmd.Flag("addr"); f != nil && !f.Changed {
			if addr := os.Getenv("FLUXION_LISTEN_ADDR"); addr != "" {
				opts.addr = addr
			}
		}
		return nil
	}

	cmd.AddCommand(
		newServeCmd(),
		newStatusCmd(opts),
		newSendCmd(opts),
		newHistoryCmd(opts),
		newSettingsCmd(opts),
		newProvidersCmd(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		printError(cmd.ErrOrStderr(), "%v", err)
		return err
	}
	return nil
}
