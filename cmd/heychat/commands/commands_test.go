package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/config"
	"github.com/pinpox/heychat/internal/keys"
	hlog "github.com/pinpox/heychat/internal/log"
)

func useConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() { configPath = "" })
	var err error
	cfg, err = config.Load(configPath)
	require.NoError(t, err)
	return dir
}

// runCmd executes cmd without picking up the test binary's arguments.
func runCmd(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(append([]string{}, args...))
	cmd.SilenceUsage = true
	return cmd.Execute()
}

func TestKeygenWritesSealedKey(t *testing.T) {
	dir := useConfigDir(t)
	t.Setenv(passwordEnv, "hunter2")

	require.NoError(t, runCmd(keygenCmd()))

	keyPath := filepath.Join(dir, "key.ncryptsec")
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	profile, err := resolveProfile()
	require.NoError(t, err)
	acct, ok := account.Resolve(profile)
	require.True(t, ok)

	blob, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	key, err := keys.DecryptPrivateKey("hunter2", acct, strings.TrimSpace(string(blob)))
	require.NoError(t, err)
	assert.False(t, key.IsZero())

	// A second run must not clobber the key.
	assert.Error(t, runCmd(keygenCmd()))
}

func TestResolveProfile(t *testing.T) {
	useConfigDir(t)

	_, err := resolveProfile()
	assert.Error(t, err)

	cfg.ProfileID = "npub1example"
	got, err := resolveProfile()
	require.NoError(t, err)
	assert.Equal(t, "npub1example", got)
}

func TestReadPasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "s3cret")
	pw, err := readPassword("ignored: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}

func TestParsePeer(t *testing.T) {
	const pk = "bb00000000000000000000000000000000000000000000000000000000000002"
	want, _ := account.Resolve(pk)

	got, err := parsePeer(pk)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = parsePeer("nostr:" + want.NPub())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parsePeer("bob")
	assert.Error(t, err)
}

func TestBridgeNostrLogs(t *testing.T) {
	var buf bytes.Buffer
	logs, err := hlog.NewWriter(&buf, "DEBUG")
	require.NoError(t, err)

	prev := nostr.InfoLogger
	restore := bridgeNostrLogs(logs)
	nostr.InfoLogger.Printf("connected to %s", "wss://relay.example")
	nostr.DebugLogger.Println("sub opened")
	restore()

	assert.Contains(t, buf.String(), "INFO nostr: connected to wss://relay.example")
	assert.Contains(t, buf.String(), "DEBU nostr: sub opened")
	assert.Same(t, prev, nostr.InfoLogger)
}
