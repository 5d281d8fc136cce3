package decrypt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/keys"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
)

func newSession(t *testing.T) *session.Config {
	t.Helper()
	key := keys.Generate()
	pk, err := key.PubKey()
	require.NoError(t, err)
	id, _ := account.NewIdentity(pk)
	return session.Build(id, session.Dev, key, keys.NewLocalSigner(key))
}

func wrapped(t *testing.T, from, to *session.Config, in codec.Intent) (nostr.Event, protocol.CiphertextMessage) {
	t.Helper()
	env, err := codec.Encode(in)
	require.NoError(t, err)
	rumor, err := protocol.NewRumor(from, env, to.Account().PubKey())
	require.NoError(t, err)
	wrap, err := protocol.GiftWrap(context.Background(), from, rumor, to.Account().PubKey())
	require.NoError(t, err)
	return rumor, protocol.FromEvent(&wrap)
}

func TestDecrypt(t *testing.T) {
	alice, bob := newSession(t), newSession(t)
	rumor, ct := wrapped(t, alice, bob, codec.Reaction{Content: "👍", Reference: "m1"})

	msg, err := Pipeline{}.Decrypt(context.Background(), bob, ct)
	require.NoError(t, err)
	assert.Equal(t, rumor.ID, msg.ID)
	assert.Equal(t, alice.Account(), msg.From)
	assert.Equal(t, bob.Account(), msg.To)
	assert.Equal(t, int64(rumor.CreatedAt)*1000, msg.Timestamp)
	assert.Equal(t, codec.Reaction{Content: "👍", Reference: "m1"}, msg.Intent)
}

func TestDecryptIsIdempotent(t *testing.T) {
	alice, bob := newSession(t), newSession(t)
	_, ct := wrapped(t, alice, bob, codec.Text{Content: "same"})

	first, err := Pipeline{}.Decrypt(context.Background(), bob, ct)
	require.NoError(t, err)
	second, err := Pipeline{}.Decrypt(context.Background(), bob, ct)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelfCopy(t *testing.T) {
	alice, bob := newSession(t), newSession(t)
	env, _ := codec.Encode(codec.Text{Content: "note to bob"})
	rumor, err := protocol.NewRumor(alice, env, bob.Account().PubKey())
	require.NoError(t, err)
	wrap, err := protocol.GiftWrap(context.Background(), alice, rumor, alice.Account().PubKey())
	require.NoError(t, err)

	msg, err := Pipeline{}.Decrypt(context.Background(), alice, protocol.FromEvent(&wrap))
	require.NoError(t, err)
	assert.Equal(t, alice.Account(), msg.From)
	assert.Equal(t, bob.Account(), msg.To, "recipient comes from the rumor")
}

func TestDecryptFailures(t *testing.T) {
	alice, bob, eve := newSession(t), newSession(t), newSession(t)
	_, ct := wrapped(t, alice, bob, codec.Text{Content: "secret"})

	// Addressed elsewhere.
	_, err := Pipeline{}.Decrypt(context.Background(), eve, ct)
	assert.ErrorIs(t, err, chaterr.ErrDecryptionFailed)

	// Right address, wrong key.
	forged := ct
	forged.ToDID = eve.Account()
	_, err = Pipeline{}.Decrypt(context.Background(), eve, forged)
	assert.ErrorIs(t, err, chaterr.ErrDecryptionFailed)

	// Garbage.
	garbage := ct
	garbage.MessageContent = "{not json"
	_, err = Pipeline{}.Decrypt(context.Background(), bob, garbage)
	assert.ErrorIs(t, err, chaterr.ErrDecryptionFailed)

	// Wrong kind.
	var evt nostr.Event
	require.NoError(t, json.Unmarshal([]byte(ct.MessageContent), &evt))
	evt.Kind = 1
	raw, _ := json.Marshal(evt)
	wrongKind := ct
	wrongKind.MessageContent = string(raw)
	_, err = Pipeline{}.Decrypt(context.Background(), bob, wrongKind)
	assert.ErrorIs(t, err, chaterr.ErrDecryptionFailed)
}

func TestUndecodableEnvelope(t *testing.T) {
	alice, bob := newSession(t), newSession(t)
	rumor := nostr.Event{
		Kind:      protocol.KindRumor,
		PubKey:    alice.Account().PubKey(),
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", bob.Account().PubKey()}},
		Content:   `{"message":{"content":"x","type":"Poll"}}`,
	}
	rumor.ID = rumor.GetID()
	wrap, err := protocol.GiftWrap(context.Background(), alice, rumor, bob.Account().PubKey())
	require.NoError(t, err)

	_, err = Pipeline{}.Decrypt(context.Background(), bob, protocol.FromEvent(&wrap))
	assert.ErrorIs(t, err, chaterr.ErrDecryptionFailed)
}

func TestDecryptRequiresSession(t *testing.T) {
	alice, bob := newSession(t), newSession(t)
	_, ct := wrapped(t, alice, bob, codec.Text{Content: "x"})
	bob.PrivateKey.Zero()

	_, err := Pipeline{}.Decrypt(context.Background(), bob, ct)
	assert.ErrorIs(t, err, chaterr.ErrNotAuthenticated)
}
