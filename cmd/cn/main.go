package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/ui"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL   string
	profileName string
	sessionFlag string
	jsonOutput  bool

	apiClient *client.HTTPClient
	// current is the resolved profile for this invocation.
	current Profile
)

var rootCmd = &cobra.Command{
	Use:           "cn <command>",
	Short:         "Agent CLI and gateway server for the Coherence network",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(profileName)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("server") {
			p.URL = serverURL
		}
		if sessionFlag != "" {
			p.Session = sessionFlag
		}
		c, err := newClient(p)
		if err != nil {
			return err
		}
		current, apiClient = p, c
		return nil
	},
}

// localCommand skips client setup for commands that never call the gateway.
func localCommand(cmd *cobra.Command, args []string) error { return nil }

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "gateway URL (overrides the profile)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "profile to use (default: active profile)")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session token (overrides the profile)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "agent", Title: "Agent actions:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Agent actions
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(edgeCmd)

	// Views
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(keygenCmd)
}

func main() {
	ui.SetColor(ui.ShouldUseColor(os.Stdout))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
