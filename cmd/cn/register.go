package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Bind the profile's signing key to its agent",
	Long: `Register the profile's public key with the gateway. Requires a session
token for the agent and a private key (see 'cn keygen --save').`,
	GroupID: "agent",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiClient.Pubkey() == "" {
			return fmt.Errorf("profile has no private key; run 'cn keygen --save'")
		}
		if current.Session == "" {
			return fmt.Errorf("registering a key requires a session token")
		}
		nodeURL, _ := cmd.Flags().GetString("node-url")

		res, err := apiClient.Register(context.Background(), nodeURL)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: agent %s now signs with %s\n", res.Message, res.AgentID, res.Pubkey)
		return nil
	},
}

func init() {
	registerCmd.Flags().String("node-url", "", "URL where the agent's node can be reached")
}
