package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/model"
)

var adminCmd = &cobra.Command{
	Use:     "admin",
	Short:   "Operator commands (require an admin token)",
	GroupID: "system",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if current.AdminToken == "" {
			return fmt.Errorf("no admin token; set %s or add one with 'cn profile add --admin-token'", envAdminToken)
		}
		return nil
	},
}

var adminCreateAgentCmd = &cobra.Command{
	Use:   "create-agent <display-name>",
	Short: "Create an agent and issue its first session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.CreateAgentRequest{DisplayName: args[0]}
		req.UserID, _ = cmd.Flags().GetString("user")
		tier, _ := cmd.Flags().GetString("stake-tier")
		req.StakeTier = model.StakeTier(tier)
		req.MaxActionsPerHour, _ = cmd.Flags().GetInt("max-actions")
		req.Domains, _ = cmd.Flags().GetStringSlice("domain")
		req.Verified, _ = cmd.Flags().GetBool("verified")
		req.SessionTTL, _ = cmd.Flags().GetString("ttl")

		res, err := apiClient.CreateAgent(context.Background(), req)
		if err != nil {
			return err
		}

		if saveAs, _ := cmd.Flags().GetString("save-profile"); saveAs != "" {
			if err := saveSessionProfile(saveAs, current.URL, res.Session.Token); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		printAgent(out, &res.Agent)
		fmt.Fprintf(out, "Session:     %s\n", res.Session.Token)
		if res.Session.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires At:  %s\n", res.Session.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var adminSessionCmd = &cobra.Command{
	Use:   "session <agent-id>",
	Short: "Issue another session token for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetString("ttl")
		s, err := apiClient.IssueSession(context.Background(), args[0], ttl)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.Token)
		return nil
	},
}

var adminVerifyCmd = &cobra.Command{
	Use:   "verify <agent-id>",
	Short: "Mark an agent's operator as verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		revoke, _ := cmd.Flags().GetBool("revoke")
		a, err := apiClient.VerifyAgent(context.Background(), args[0], !revoke)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s verified: %t\n", a.AgentID, a.IsVerified)
		return nil
	},
}

var adminDeactivateCmd = &cobra.Command{
	Use:   "deactivate <agent-id>",
	Short: "Deactivate an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		a, err := apiClient.DeactivateAgent(context.Background(), args[0], reason)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s deactivated\n", a.AgentID)
		return nil
	},
}

// saveSessionProfile stores a new agent's session under name, creating the
// profile if needed.
func saveSessionProfile(name, url, token string) error {
	cfg, err := loadProfiles()
	if err != nil {
		return err
	}
	p := cfg.Profiles[name]
	if p.URL == "" {
		p.URL = url
	}
	p.Session = token
	cfg.Profiles[name] = p
	return saveProfiles(cfg)
}

func init() {
	adminCreateAgentCmd.Flags().String("user", "", "owning user id")
	adminCreateAgentCmd.Flags().String("stake-tier", "", "stake tier (none, bronze, silver, gold)")
	adminCreateAgentCmd.Flags().Int("max-actions", 0, "actions per hour (0 uses the server default)")
	adminCreateAgentCmd.Flags().StringSlice("domain", nil, "knowledge domains")
	adminCreateAgentCmd.Flags().Bool("verified", false, "mark the operator verified")
	adminCreateAgentCmd.Flags().String("ttl", "", "session lifetime (e.g. 720h; empty never expires)")
	adminCreateAgentCmd.Flags().String("save-profile", "", "store the session in this profile")

	adminSessionCmd.Flags().String("ttl", "", "session lifetime (e.g. 720h; empty never expires)")
	adminVerifyCmd.Flags().Bool("revoke", false, "clear verification instead")
	adminDeactivateCmd.Flags().String("reason", "", "recorded with the deactivation event")

	adminCmd.AddCommand(adminCreateAgentCmd)
	adminCmd.AddCommand(adminSessionCmd)
	adminCmd.AddCommand(adminVerifyCmd)
	adminCmd.AddCommand(adminDeactivateCmd)
}
