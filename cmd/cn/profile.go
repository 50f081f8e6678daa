package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
)

// Environment variables that override the selected profile.
const (
	envURL        = "COHERENCE_URL"
	envSession    = "COHERENCE_SESSION"
	envPrivateKey = "COHERENCE_PRIVATE_KEY"
	envAdminToken = "COHERENCE_ADMIN_TOKEN"
	envNATSURL    = "COHERENCE_NATS_URL"
)

// ProfilesConfig holds all named profiles and tracks which one is active.
type ProfilesConfig struct {
	Active   string             `toml:"active"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile is one agent identity on one gateway.
type Profile struct {
	URL string `toml:"url"`
	// PrivateKey is the hex Ed25519 seed.
	PrivateKey string `toml:"private_key,omitempty"`
	Session    string `toml:"session,omitempty"`
	AdminToken string `toml:"admin_token,omitempty"`
	NATSURL    string `toml:"nats_url,omitempty"`
}

func profilesPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	dir = filepath.Join(dir, "coherence")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles.toml"), nil
}

func loadProfiles() (ProfilesConfig, error) {
	path, err := profilesPath()
	if err != nil {
		return ProfilesConfig{}, err
	}
	var cfg ProfilesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ProfilesConfig{Profiles: map[string]Profile{}}, nil
		}
		return ProfilesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

func saveProfiles(cfg ProfilesConfig) error {
	path, err := profilesPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// resolveProfile returns the named profile (or the active one when name is
// empty) with environment overrides applied. With no profile at all the
// result carries only the defaults and the environment.
func resolveProfile(name string) (Profile, error) {
	cfg, err := loadProfiles()
	if err != nil {
		return Profile{}, err
	}
	if name == "" {
		name = cfg.Active
	}
	var p Profile
	if name != "" {
		var ok bool
		if p, ok = cfg.Profiles[name]; !ok {
			return Profile{}, fmt.Errorf("profile %q not found", name)
		}
	}
	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&p.URL, envURL)
	override(&p.Session, envSession)
	override(&p.PrivateKey, envPrivateKey)
	override(&p.AdminToken, envAdminToken)
	override(&p.NATSURL, envNATSURL)
	if p.URL == "" {
		p.URL = defaultServerURL
	}
	return p, nil
}

// parsePrivateKey accepts a hex seed (32 bytes) or a full hex private key (64 bytes).
func parsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
}

// newClient builds an API client from a resolved profile.
func newClient(p Profile) (*client.HTTPClient, error) {
	var opts []client.Option
	if p.PrivateKey != "" {
		key, err := parsePrivateKey(p.PrivateKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSigningKey(key))
	}
	if p.Session != "" {
		opts = append(opts, client.WithSession(p.Session))
	}
	if p.AdminToken != "" {
		opts = append(opts, client.WithAdminToken(p.AdminToken))
	}
	return client.NewHTTPClient(p.URL, opts...), nil
}

// mask hides all but the first eight characters of a secret.
func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:8] + strings.Repeat("*", len(s)-8)
}

var profileCmd = &cobra.Command{
	Use:               "profile",
	Short:             "Manage named agent profiles",
	GroupID:           "system",
	PersistentPreRunE: localCommand,
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]
		session, _ := cmd.Flags().GetString("token")
		admin, _ := cmd.Flags().GetString("admin-token")
		natsURL, _ := cmd.Flags().GetString("nats")
		key, _ := cmd.Flags().GetString("private-key")
		if key != "" {
			if _, err := parsePrivateKey(key); err != nil {
				return err
			}
		}

		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		p := cfg.Profiles[name]
		p.URL = url
		if session != "" {
			p.Session = session
		}
		if admin != "" {
			p.AdminToken = admin
		}
		if natsURL != "" {
			p.NATSURL = natsURL
		}
		if key != "" {
			p.PrivateKey = key
		}
		cfg.Profiles[name] = p
		if cfg.Active == "" {
			cfg.Active = name
		}
		if err := saveProfiles(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "profile %q saved (%s)\n", name, url)
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		if _, ok := cfg.Profiles[name]; !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		delete(cfg.Profiles, name)
		if cfg.Active == name {
			cfg.Active = ""
		}
		if err := saveProfiles(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "profile %q removed\n", name)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		if len(cfg.Profiles) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no profiles configured")
			return nil
		}
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tPUBKEY")
		for _, name := range names {
			p := cfg.Profiles[name]
			marker := "  "
			if name == cfg.Active {
				marker = "* "
			}
			pub := ""
			if key, err := parsePrivateKey(p.PrivateKey); err == nil {
				pub = publicHex(key)[:16] + "..."
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\n", marker, name, p.URL, pub)
		}
		return w.Flush()
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Set the active profile (no args clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			cfg.Active = ""
			if err := saveProfiles(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "active profile cleared")
			return nil
		}
		name := args[0]
		if _, ok := cfg.Profiles[name]; !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		cfg.Active = name
		if err := saveProfiles(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active profile set to %q\n", name)
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a profile (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfiles()
		if err != nil {
			return err
		}
		name := cfg.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("no active profile; specify a name or run 'cn profile use <name>'")
		}
		p, ok := cfg.Profiles[name]
		if !ok {
			return fmt.Errorf("profile %q not found", name)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		active := ""
		if name == cfg.Active {
			active = " (active)"
		}
		fmt.Fprintf(w, "name:\t%s%s\n", name, active)
		fmt.Fprintf(w, "url:\t%s\n", p.URL)
		if p.PrivateKey != "" {
			if key, err := parsePrivateKey(p.PrivateKey); err == nil {
				fmt.Fprintf(w, "pubkey:\t%s\n", publicHex(key))
			} else {
				fmt.Fprintf(w, "pubkey:\tinvalid (%v)\n", err)
			}
		}
		if p.Session != "" {
			fmt.Fprintf(w, "session:\t%s\n", mask(p.Session))
		}
		if p.AdminToken != "" {
			fmt.Fprintf(w, "admin_token:\t%s\n", mask(p.AdminToken))
		}
		if p.NATSURL != "" {
			fmt.Fprintf(w, "nats_url:\t%s\n", p.NATSURL)
		}
		return w.Flush()
	},
}

func init() {
	profileAddCmd.Flags().String("token", "", "session token")
	profileAddCmd.Flags().String("admin-token", "", "admin bearer token")
	profileAddCmd.Flags().String("nats", "", "NATS URL for `cn watch --nats`")
	profileAddCmd.Flags().String("private-key", "", "hex Ed25519 seed (see `cn keygen`)")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileShowCmd)
}
