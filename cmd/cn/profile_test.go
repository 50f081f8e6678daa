package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate points the profile file at a fresh directory and clears the
// environment overrides.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	for _, env := range []string{envURL, envSession, envPrivateKey, envAdminToken, envNATSURL} {
		t.Setenv(env, "")
	}
}

func testSeed(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(priv.Seed()), priv
}

func TestSaveLoadRoundTrip(t *testing.T) {
	isolate(t)

	in := ProfilesConfig{
		Active: "prod",
		Profiles: map[string]Profile{
			"prod":  {URL: "https://gw.example.com", Session: "sess_abc", NATSURL: "nats://prod:4222"},
			"local": {URL: "http://localhost:8080"},
		},
	}
	if err := saveProfiles(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := loadProfiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Active != "prod" {
		t.Errorf("Active = %q, want %q", got.Active, "prod")
	}
	prod := got.Profiles["prod"]
	if prod.URL != "https://gw.example.com" || prod.Session != "sess_abc" || prod.NATSURL != "nats://prod:4222" {
		t.Errorf("prod profile = %+v, wrong values", prod)
	}
}

func TestLoadProfiles_NoFile(t *testing.T) {
	isolate(t)

	cfg, err := loadProfiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Active != "" || len(cfg.Profiles) != 0 || cfg.Profiles == nil {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestProfilesPath_XDG(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path, err := profilesPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(xdg, "coherence", "profiles.toml"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestSaveProfiles_Permissions(t *testing.T) {
	isolate(t)

	if err := saveProfiles(ProfilesConfig{Profiles: map[string]Profile{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	path, _ := profilesPath()
	check := func(p string, want os.FileMode) {
		t.Helper()
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s permissions = %04o, want %04o", p, got, want)
		}
	}
	check(path, 0o600)
	check(filepath.Dir(path), 0o700)
}

func TestProfileLifecycle(t *testing.T) {
	isolate(t)

	mustRun := func(fn func() error) {
		t.Helper()
		if err := fn(); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	profileAddCmd.SetOut(&buf)
	profileUseCmd.SetOut(&buf)
	profileRemoveCmd.SetOut(&buf)

	// The first profile added becomes active.
	mustRun(func() error { return profileAddCmd.RunE(profileAddCmd, []string{"local", "http://localhost:8080"}) })
	mustRun(func() error { return profileAddCmd.RunE(profileAddCmd, []string{"other", "http://other:8080"}) })
	cfg, _ := loadProfiles()
	if cfg.Active != "local" {
		t.Fatalf("Active = %q, want %q", cfg.Active, "local")
	}

	mustRun(func() error { return profileUseCmd.RunE(profileUseCmd, []string{"other"}) })

	buf.Reset()
	profileListCmd.SetOut(&buf)
	mustRun(func() error { return profileListCmd.RunE(profileListCmd, nil) })
	if !strings.Contains(buf.String(), "* other") || !strings.Contains(buf.String(), "  local") {
		t.Errorf("list missing active marker; got:\n%s", buf.String())
	}

	buf.Reset()
	profileShowCmd.SetOut(&buf)
	mustRun(func() error { return profileShowCmd.RunE(profileShowCmd, nil) })
	if out := buf.String(); !strings.Contains(out, "http://other:8080") || !strings.Contains(out, "(active)") {
		t.Errorf("show missing expected content; got:\n%s", out)
	}

	mustRun(func() error { return profileRemoveCmd.RunE(profileRemoveCmd, []string{"other"}) })
	cfg, _ = loadProfiles()
	if _, ok := cfg.Profiles["other"]; ok {
		t.Error("profile 'other' should be gone")
	}
	if cfg.Active != "" {
		t.Errorf("Active should be cleared, got %q", cfg.Active)
	}
}

func TestProfileSecretsMasked(t *testing.T) {
	isolate(t)
	seed, priv := testSeed(t)

	for flag, v := range map[string]string{"token": "sess_verylongsecret", "private-key": seed} {
		if err := profileAddCmd.Flags().Set(flag, v); err != nil {
			t.Fatalf("set %s: %v", flag, err)
		}
		t.Cleanup(func() { _ = profileAddCmd.Flags().Set(flag, "") })
	}
	profileAddCmd.SetOut(&bytes.Buffer{})
	if err := profileAddCmd.RunE(profileAddCmd, []string{"prod", "https://gw.example.com"}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	profileShowCmd.SetOut(&buf)
	if err := profileShowCmd.RunE(profileShowCmd, nil); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "sess_verylongsecret") || strings.Contains(out, seed) {
		t.Errorf("secrets must not appear in show output:\n%s", out)
	}
	if !strings.Contains(out, "sess_ver***") {
		t.Errorf("expected masked session; got:\n%s", out)
	}
	if !strings.Contains(out, publicHex(priv)) {
		t.Errorf("expected derived pubkey; got:\n%s", out)
	}
}

func TestProfileAdd_RejectsBadKey(t *testing.T) {
	isolate(t)
	if err := profileAddCmd.Flags().Set("private-key", "not-hex"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = profileAddCmd.Flags().Set("private-key", "") })

	if err := profileAddCmd.RunE(profileAddCmd, []string{"bad", "http://x"}); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestProfileErrorCases(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"use unknown", func() error { return profileUseCmd.RunE(profileUseCmd, []string{"ghost"}) }},
		{"remove unknown", func() error { return profileRemoveCmd.RunE(profileRemoveCmd, []string{"ghost"}) }},
		{"show no active", func() error { return profileShowCmd.RunE(profileShowCmd, nil) }},
		{"resolve unknown", func() error { _, err := resolveProfile("ghost"); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			if err := tc.fn(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestResolveProfile_EnvOverrides(t *testing.T) {
	isolate(t)
	if err := saveProfiles(ProfilesConfig{
		Active:   "prod",
		Profiles: map[string]Profile{"prod": {URL: "https://gw.example.com", Session: "from-file"}},
	}); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envSession, "from-env")

	p, err := resolveProfile("")
	if err != nil {
		t.Fatal(err)
	}
	if p.URL != "https://gw.example.com" || p.Session != "from-env" {
		t.Errorf("profile = %+v", p)
	}

	isolate(t)
	p, err = resolveProfile("")
	if err != nil {
		t.Fatal(err)
	}
	if p.URL != defaultServerURL {
		t.Errorf("URL without profile = %q, want %q", p.URL, defaultServerURL)
	}
}

func TestParsePrivateKey(t *testing.T) {
	seed, priv := testSeed(t)

	got, err := parsePrivateKey(seed)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !got.Equal(priv) {
		t.Error("seed did not reproduce the key")
	}

	got, err = parsePrivateKey(hex.EncodeToString(priv))
	if err != nil {
		t.Fatalf("full key: %v", err)
	}
	if !got.Equal(priv) {
		t.Error("full key did not round-trip")
	}

	for _, bad := range []string{"", "zz", strings.Repeat("ab", 31)} {
		if _, err := parsePrivateKey(bad); err == nil {
			t.Errorf("parsePrivateKey(%q) should fail", bad)
		}
	}
}

func TestKeygenSave(t *testing.T) {
	isolate(t)
	if err := saveProfiles(ProfilesConfig{
		Active:   "me",
		Profiles: map[string]Profile{"me": {URL: "http://localhost:8080"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := keygenCmd.Flags().Set("save", "true"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = keygenCmd.Flags().Set("save", "false") })

	var buf bytes.Buffer
	keygenCmd.SetOut(&buf)
	if err := keygenCmd.RunE(keygenCmd, nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg, _ := loadProfiles()
	key, err := parsePrivateKey(cfg.Profiles["me"].PrivateKey)
	if err != nil {
		t.Fatalf("saved key: %v", err)
	}
	if !strings.Contains(buf.String(), publicHex(key)) {
		t.Errorf("output missing pubkey:\n%s", buf.String())
	}

	// A second run must not silently replace the key.
	if err := keygenCmd.RunE(keygenCmd, nil); err == nil {
		t.Error("expected error when the profile already has a key")
	}
}
