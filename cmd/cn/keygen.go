package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/sigauth"
)

func publicHex(key ed25519.PrivateKey) string {
	return sigauth.EncodePubkey(key.Public().(ed25519.PublicKey))
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 agent key",
	Long: `Generate an Ed25519 key pair for signing agent requests.

With --save the seed is stored in the named (or active) profile; otherwise
both halves are printed and nothing is written.`,
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: localCommand,
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")

		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generating key: %w", err)
		}
		seed := hex.EncodeToString(priv.Seed())
		out := cmd.OutOrStdout()

		if !save {
			fmt.Fprintf(out, "pubkey:      %s\n", publicHex(priv))
			fmt.Fprintf(out, "private_key: %s\n", seed)
			return nil
		}

		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		name := profileName
		if name == "" {
			name = cfg.Active
		}
		if name == "" {
			return fmt.Errorf("no profile to save into; pass --profile or run 'cn profile add'")
		}
		p, ok := cfg.Profiles[name]
		if !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		if p.PrivateKey != "" {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("profile %q already has a key; pass --force to replace it", name)
			}
		}
		p.PrivateKey = seed
		cfg.Profiles[name] = p
		if err := saveProfiles(cfg); err != nil {
			return err
		}
		fmt.Fprintf(out, "key saved to profile %q\npubkey: %s\n", name, publicHex(priv))
		return nil
	},
}

func init() {
	keygenCmd.Flags().Bool("save", false, "store the key in the profile")
	keygenCmd.Flags().Bool("force", false, "replace an existing key")
}
