package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:     "agent [pubkey]",
	Short:   "Show an agent's public profile (defaults to this profile's key)",
	GroupID: "views",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey := apiClient.Pubkey()
		if len(args) == 1 {
			pubkey = args[0]
		}
		if pubkey == "" {
			return fmt.Errorf("no pubkey given and the profile has no private key")
		}

		a, err := apiClient.GetAgent(context.Background(), pubkey)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}
		printAgent(cmd.OutOrStdout(), a)
		return nil
	},
}
