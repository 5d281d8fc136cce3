package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/heychat/internal/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Env(); got != session.Prod {
		t.Errorf("Env() = %q, want %q", got, session.Prod)
	}
	prod := cfg.Environments["prod"].Relays
	if len(prod) == 0 {
		t.Fatal("expected default prod relays, got empty")
	}
	if prod[0] != "wss://relay.damus.io" {
		t.Errorf("first default relay = %q, want %q", prod[0], "wss://relay.damus.io")
	}
	if cfg.MaxMessages != 500 {
		t.Errorf("MaxMessages = %d, want 500", cfg.MaxMessages)
	}
	if !cfg.TranscriptEnabled() || !cfg.NotificationsEnabled() {
		t.Error("transcript and notifications should default to enabled")
	}
	if len(cfg.BlossomServers) == 0 {
		t.Fatal("expected default blossom servers, got empty")
	}
}

func TestPath(t *testing.T) {
	t.Run("flag takes priority", func(t *testing.T) {
		got := Path("/my/flag/path.toml")
		if got != "/my/flag/path.toml" {
			t.Errorf("Path with flag = %q, want %q", got, "/my/flag/path.toml")
		}
	})

	t.Run("env var when no flag", func(t *testing.T) {
		t.Setenv("HEYCHAT_CONFIG", "/env/path.toml")
		got := Path("")
		if got != "/env/path.toml" {
			t.Errorf("Path with env = %q, want %q", got, "/env/path.toml")
		}
	})

	t.Run("default when no flag or env", func(t *testing.T) {
		t.Setenv("HEYCHAT_CONFIG", "")
		got := Path("")
		home, err := os.UserHomeDir()
		if err != nil {
			t.Fatalf("os.UserHomeDir() failed: %v", err)
		}
		want := filepath.Join(home, ".config", "heychat", "config.toml")
		if got != want {
			t.Errorf("Path default = %q, want %q", got, want)
		}
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgFile
}

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MaxMessages != 500 {
			t.Errorf("MaxMessages = %d, want 500", cfg.MaxMessages)
		}
		if len(cfg.RelayMap()[session.Prod]) == 0 {
			t.Error("expected default relays")
		}
	})

	t.Run("valid TOML parses", func(t *testing.T) {
		cfgFile := writeConfig(t, `
environment = "staging"
profile_id = "npub1xyz"
max_messages = 100
transcript = false
metrics_addr = "127.0.0.1:9100"

[environments.staging]
relays = ["wss://Staging.Relay/", "wss://staging.relay"]
`)
		cfg, err := Load(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Env() != session.Staging {
			t.Errorf("Env() = %q, want staging", cfg.Env())
		}
		if cfg.MaxMessages != 100 {
			t.Errorf("MaxMessages = %d, want 100", cfg.MaxMessages)
		}
		if cfg.TranscriptEnabled() {
			t.Error("transcript = false not honoured")
		}
		if cfg.MetricsAddr != "127.0.0.1:9100" {
			t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
		}
		staging := cfg.RelayMap()[session.Staging]
		if len(staging) != 1 || staging[0] != "wss://staging.relay" {
			t.Errorf("staging relays = %v, want [wss://staging.relay]", staging)
		}
		if len(cfg.RelayMap()[session.Prod]) == 0 {
			t.Error("prod relays should keep their defaults")
		}
	})

	t.Run("zero max_messages gets default", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `max_messages = 0`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MaxMessages != 500 {
			t.Errorf("MaxMessages = %d, want 500 (default)", cfg.MaxMessages)
		}
	})

	t.Run("key path relative to config dir", func(t *testing.T) {
		cfgFile := writeConfig(t, `key_file = "me.ncryptsec"`)
		cfg, err := Load(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := filepath.Join(filepath.Dir(cfgFile), "me.ncryptsec")
		if got := cfg.KeyPath(cfgFile); got != want {
			t.Errorf("KeyPath = %q, want %q", got, want)
		}
	})

	t.Run("invalid TOML fails", func(t *testing.T) {
		if _, err := Load(writeConfig(t, `max_messages = "lots"`)); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestLoadLastSeenAndSaveLastSeen(t *testing.T) {
	cfgFile := writeConfig(t, "")

	// Missing file returns ~7 days ago.
	ts := LoadLastSeen(cfgFile)
	sevenDaysAgo := nostr.Timestamp(time.Now().Add(-7 * 24 * time.Hour).Unix())
	diff := int64(ts) - int64(sevenDaysAgo)
	if diff < -10 || diff > 10 {
		t.Errorf("expected ~7 days ago, got diff of %d seconds", diff)
	}

	want := nostr.Timestamp(1234567890)
	if err := SaveLastSeen(cfgFile, want); err != nil {
		t.Fatal(err)
	}
	if got := LoadLastSeen(cfgFile); got != want {
		t.Errorf("LoadLastSeen = %d, want %d", got, want)
	}
}
