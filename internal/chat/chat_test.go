package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/codec"
)

const (
	alice = account.Account("did:nostr:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = account.Account("did:nostr:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func text(id string, ts int64, s string) Message {
	return Message{ID: id, From: bob, To: alice, Timestamp: ts, Intent: codec.Text{Content: s}}
}

func TestAppendDedup(t *testing.T) {
	var seen []string
	s := NewStore(0, ObserverFunc(func(peer account.Account, m Message) {
		seen = append(seen, m.ID)
	}))

	assert.True(t, s.Append(bob, text("m1", 1, "hi")))
	assert.False(t, s.Append(bob, text("m1", 1, "hi")))
	assert.True(t, s.Append(bob, text("m2", 2, "there")))

	assert.Equal(t, 2, s.Len(bob))
	assert.Equal(t, []string{"m1", "m2"}, seen)
}

func TestAppendKeepsArrivalOrder(t *testing.T) {
	s := NewStore(0)
	s.Append(bob, text("late", 20, "b"))
	s.Append(bob, text("early", 10, "a"))
	msgs := s.Messages(bob)
	require.Len(t, msgs, 2)
	assert.Equal(t, "late", msgs[0].ID)
	assert.Equal(t, "early", msgs[1].ID)
}

func TestLoadSortsAndSkipsKnown(t *testing.T) {
	called := false
	s := NewStore(0, ObserverFunc(func(account.Account, Message) { called = true }))
	n := s.Load(bob, []Message{text("b", 2, "b"), text("a", 1, "a"), text("b", 2, "b")})
	assert.Equal(t, 2, n)
	assert.False(t, called)

	msgs := s.Messages(bob)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.False(t, s.Append(bob, text("a", 1, "a")))
}

func TestTrim(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Append(bob, text(fmt.Sprintf("m%d", i), int64(i), "x"))
	}
	msgs := s.Messages(bob)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.False(t, s.Append(bob, text("m0", 0, "x")), "trimmed ids stay known")
}

func TestReactions(t *testing.T) {
	s := NewStore(0)
	s.Append(bob, text("m1", 1, "hello"))
	react := Message{ID: "r1", From: bob, To: alice, Timestamp: 2, Intent: codec.Reaction{Content: "👍", Reference: "m1"}}
	s.Append(bob, react)
	s.Append(bob, react)
	s.Append(bob, Message{ID: "r2", From: bob, Timestamp: 3, Intent: codec.Reaction{Content: "🔥", Reference: "other"}})

	got := s.Reactions(bob, "m1")
	require.Len(t, got, 1)
	assert.Equal(t, "👍", got[0].Content())
	assert.Equal(t, "m1", got[0].ReferenceID())
	assert.Nil(t, s.Reactions(alice, "m1"))
}

func TestReplyTarget(t *testing.T) {
	s := NewStore(0)
	assert.ErrorIs(t, s.SetReplyTarget(bob, "m1"), ErrUnknownMessage)

	s.Append(bob, text("m1", 1, "question?"))
	assert.ErrorIs(t, s.SetReplyTarget(bob, "nope"), ErrUnknownMessage)
	require.NoError(t, s.SetReplyTarget(bob, "m1"))

	target, ok := s.ReplyTarget(bob)
	require.True(t, ok)
	assert.Equal(t, "m1", target.ID)

	s.ClearReplyTarget(bob)
	_, ok = s.ReplyTarget(bob)
	assert.False(t, ok)
}

func TestPeersByActivity(t *testing.T) {
	s := NewStore(0)
	s.Append(alice, text("a", 5, "x"))
	s.Append(bob, text("b", 9, "x"))
	assert.Equal(t, []account.Account{bob, alice}, s.Peers())

	s.Reset()
	assert.Empty(t, s.Peers())
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore(1000)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append(bob, text(fmt.Sprintf("m%d", i), int64(i), "x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len(bob))
}

func TestMessageAccessors(t *testing.T) {
	m := Message{Intent: codec.Reply{Reference: "m9", Body: codec.Text{Content: "ok"}}}
	assert.Equal(t, codec.TypeReply, m.Type())
	assert.Equal(t, "m9", m.ReferenceID())
	assert.Equal(t, "ok", m.Content())
	assert.Equal(t, codec.MessageType(""), Message{}.Type())
}
