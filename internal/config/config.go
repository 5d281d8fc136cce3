// Package config loads the heychat TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/heychat/internal/session"
)

const defaultMaxMessages = 500

type EnvironmentConfig struct {
	Relays []string `toml:"relays"`
}

type Config struct {
	Environment    string                       `toml:"environment"`
	ProfileID      string                       `toml:"profile_id"`
	KeyFile        string                       `toml:"key_file"`
	Environments   map[string]EnvironmentConfig `toml:"environments"`
	BlossomServers []string                     `toml:"blossom_servers"`
	MaxMessages    int                          `toml:"max_messages"`
	Transcript     *bool                        `toml:"transcript"` // nil = default (true)
	TranscriptDir  string                       `toml:"transcript_dir"`
	LogFile        string                       `toml:"log_file"`
	LogLevel       string                       `toml:"log_level"`
	Notifications  *bool                        `toml:"notifications"` // nil = default (true)
	MetricsAddr    string                       `toml:"metrics_addr"`
}

// TranscriptEnabled returns whether conversation transcripts are written.
func (c Config) TranscriptEnabled() bool {
	if c.Transcript == nil {
		return true
	}
	return *c.Transcript
}

func (c Config) NotificationsEnabled() bool {
	if c.Notifications == nil {
		return true
	}
	return *c.Notifications
}

// Env returns the configured environment, defaulting to prod.
func (c Config) Env() session.Environment {
	if c.Environment == "" {
		return session.Prod
	}
	return session.Environment(c.Environment)
}

// RelayMap returns the normalized relay URLs of every environment.
func (c Config) RelayMap() map[session.Environment][]string {
	out := make(map[session.Environment][]string, len(c.Environments))
	for name, env := range c.Environments {
		seen := make(map[string]bool)
		var urls []string
		for _, u := range env.Relays {
			n := nostr.NormalizeURL(u)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			urls = append(urls, n)
		}
		out[session.Environment(name)] = urls
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Environment: string(session.Prod),
		Environments: map[string]EnvironmentConfig{
			string(session.Prod): {Relays: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			}},
			string(session.Staging): {Relays: []string{
				"wss://relay.damus.io",
			}},
			string(session.Dev): {Relays: []string{
				"ws://127.0.0.1:7777",
			}},
		},
		BlossomServers: []string{
			"https://blossom.nostr.build",
		},
		MaxMessages: defaultMaxMessages,
		LogLevel:    "INFO",
	}
}

// Dir is the directory holding the config file and heychat's other state.
func Dir(flagPath string) string {
	return filepath.Dir(Path(flagPath))
}

// Path resolves the config file location: flag, then HEYCHAT_CONFIG, then
// ~/.config/heychat/config.toml.
func Path(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("HEYCHAT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "heychat", "config.toml")
}

func Load(flagPath string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(Path(flagPath))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	if cfg.Environment == "" {
		cfg.Environment = string(session.Prod)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvironmentConfig)
	}
	defaults := defaultConfig()
	for name, env := range defaults.Environments {
		if len(cfg.Environments[name].Relays) == 0 {
			cfg.Environments[name] = env
		}
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(Dir(flagPath), "key.ncryptsec")
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = filepath.Join(Dir(flagPath), "transcripts")
	}

	return cfg, nil
}

// KeyPath returns the key file location, relative paths taken from the
// config directory.
func (c Config) KeyPath(flagPath string) string {
	if c.KeyFile == "" {
		return filepath.Join(Dir(flagPath), "key.ncryptsec")
	}
	if filepath.IsAbs(c.KeyFile) {
		return c.KeyFile
	}
	return filepath.Join(Dir(flagPath), c.KeyFile)
}

func lastSeenPath(flagPath string) string {
	return filepath.Join(Dir(flagPath), "last_seen")
}

// LoadLastSeen reads the time of the newest message seen in a previous run.
// Returns 7 days ago if the file is missing or unreadable.
func LoadLastSeen(flagPath string) nostr.Timestamp {
	fallback := nostr.Timestamp(time.Now().Add(-7 * 24 * time.Hour).Unix())
	data, err := os.ReadFile(lastSeenPath(flagPath))
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return fallback
	}
	return nostr.Timestamp(v)
}

func SaveLastSeen(flagPath string, ts nostr.Timestamp) error {
	path := lastSeenPath(flagPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.FormatInt(int64(ts), 10)+"\n"), 0o644)
}
