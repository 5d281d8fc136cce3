package tui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/client"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/keys"
	"github.com/pinpox/heychat/internal/listener"
	"github.com/pinpox/heychat/internal/session"
	"github.com/pinpox/heychat/internal/testrelay"
)

const password = "correct horse battery staple"

func newClient(t *testing.T, relay *testrelay.Relay) (*client.Client, account.Account) {
	t.Helper()
	key := keys.Generate()
	pk, err := key.PubKey()
	require.NoError(t, err)
	blob, err := keys.EncryptPrivateKey(key, password, 4)
	require.NoError(t, err)

	c := client.New(client.Options{
		Relays:    map[session.Environment][]string{session.Dev: {relay.URL}},
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	require.NoError(t, c.Login(pk, session.Dev, keys.Material{EncryptedBlob: blob, Password: password}))
	acct, _ := account.Resolve(pk)
	return c, acct
}

func startUI(t *testing.T, c Client) *teatest.TestModel {
	t.Helper()
	tm := teatest.NewTestModel(t, New(c, WithMarkdownStyle("notty")),
		teatest.WithInitialTermSize(120, 40),
	)
	t.Cleanup(func() {
		tm.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
		tm.WaitFinished(t, teatest.WithFinalTimeout(5*time.Second))
	})
	return tm
}

// waitFor blocks until every substr has been rendered. Output is consumed,
// so text drawn in the same frame must be awaited in one call.
func waitFor(t *testing.T, tm *teatest.TestModel, timeout time.Duration, substrs ...string) {
	t.Helper()
	teatest.WaitFor(t, tm.Output(),
		func(b []byte) bool {
			for _, s := range substrs {
				if !bytes.Contains(b, []byte(s)) {
					return false
				}
			}
			return true
		},
		teatest.WithDuration(timeout),
		teatest.WithCheckInterval(200*time.Millisecond),
	)
}

func typeCmd(tm *teatest.TestModel, text string) {
	tm.Type(text)
	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestSendFromUI(t *testing.T) {
	relay := testrelay.Start(t)
	alice, _ := newClient(t, relay)
	bob, bobAcct := newClient(t, relay)
	require.NoError(t, bob.Connect())

	tm := startUI(t, alice)
	waitFor(t, tm, 10*time.Second, "connected")

	typeCmd(tm, "/dm "+bobAcct.NPub())
	waitFor(t, tm, 5*time.Second, "@"+bobAcct.Short())

	typeCmd(tm, "hello bob")
	waitFor(t, tm, 10*time.Second, "you:")

	require.Eventually(t, func() bool {
		for _, p := range bob.Store().Peers() {
			for _, m := range bob.Store().Messages(p) {
				if m.Content() == "hello bob" {
					return true
				}
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)
}

func TestChatRequestFromUI(t *testing.T) {
	relay := testrelay.Start(t)
	alice, aliceAcct := newClient(t, relay)
	bob, bobAcct := newClient(t, relay)

	require.NoError(t, alice.Connect())

	tm := startUI(t, bob)
	waitFor(t, tm, 10*time.Second, "connected")
	require.Eventually(t, func() bool { return bob.State() == listener.Connected }, 5*time.Second, 20*time.Millisecond)

	ctx := t.Context()
	_, err := alice.Send(ctx, bobAcct, "are you there?")
	require.NoError(t, err)

	waitFor(t, tm, 10*time.Second, "are you there?", "REQUESTS")

	typeCmd(tm, "/approve")
	waitFor(t, tm, 10*time.Second, "approved "+aliceAcct.Short())

	typeCmd(tm, "yes")
	require.Eventually(t, func() bool {
		for _, m := range alice.Store().Messages(bobAcct) {
			if text, ok := m.Intent.(codec.Text); ok && text.Content == "yes" {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)
}
