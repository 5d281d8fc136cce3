// Package chat holds decrypted conversation state: per-peer message history,
// the reply target and the reaction view.
package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/codec"
)

// DefaultMaxMessages bounds each conversation's in-memory history.
const DefaultMaxMessages = 500

var ErrUnknownMessage = errors.New("chat: no such message in conversation")

// Message is a decrypted chat message. It is immutable once built.
type Message struct {
	ID        string
	From      account.Account
	To        account.Account
	Timestamp int64 // unix millis
	Intent    codec.Intent
}

func (m Message) Type() codec.MessageType {
	if m.Intent == nil {
		return ""
	}
	return m.Intent.Type()
}

// ReferenceID is the id of the message a Reaction or Reply points at.
func (m Message) ReferenceID() string {
	switch in := m.Intent.(type) {
	case codec.Reaction:
		return in.Reference
	case codec.Reply:
		return in.Reference
	}
	return ""
}

func (m Message) Content() string { return codec.Summary(m.Intent) }

// Observer is told about every message newly added to a conversation. It is
// called without the store lock held.
type Observer interface {
	MessageAppended(peer account.Account, msg Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(peer account.Account, msg Message)

func (f ObserverFunc) MessageAppended(peer account.Account, msg Message) { f(peer, msg) }

type conversation struct {
	messages    []Message
	seen        map[string]struct{}
	replyTarget *Message
	lastTS      int64
}

// Store is the set of conversations of one session, keyed by peer account.
// It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	max       int
	convs     map[account.Account]*conversation
	observers []Observer
}

func NewStore(maxMessages int, observers ...Observer) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{
		max:       maxMessages,
		convs:     make(map[account.Account]*conversation),
		observers: observers,
	}
}

func (s *Store) conv(peer account.Account) *conversation {
	c, ok := s.convs[peer]
	if !ok {
		c = &conversation{seen: make(map[string]struct{})}
		s.convs[peer] = c
	}
	return c
}

// Append adds msg to the end of peer's conversation. It returns false and
// leaves the conversation untouched if a message with the same id is already
// present.
func (s *Store) Append(peer account.Account, msg Message) bool {
	s.mu.Lock()
	c := s.conv(peer)
	if msg.ID != "" {
		if _, dup := c.seen[msg.ID]; dup {
			s.mu.Unlock()
			return false
		}
		c.seen[msg.ID] = struct{}{}
	}
	c.messages = append(c.messages, msg)
	if msg.Timestamp > c.lastTS {
		c.lastTS = msg.Timestamp
	}
	s.trim(c)
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o.MessageAppended(peer, msg)
	}
	return true
}

// Load merges previously stored history into peer's conversation and sorts it
// by timestamp. Observers are not called. It returns the number of messages
// added.
func (s *Store) Load(peer account.Account, msgs []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(peer)
	n := 0
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := c.seen[m.ID]; dup {
				continue
			}
			c.seen[m.ID] = struct{}{}
		}
		c.messages = append(c.messages, m)
		if m.Timestamp > c.lastTS {
			c.lastTS = m.Timestamp
		}
		n++
	}
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].Timestamp < c.messages[j].Timestamp
	})
	s.trim(c)
	return n
}

// trim drops the oldest messages beyond the cap. Their ids stay in the seen
// set so a late duplicate is still recognised.
func (s *Store) trim(c *conversation) {
	if over := len(c.messages) - s.max; over > 0 {
		c.messages = append([]Message(nil), c.messages[over:]...)
	}
}

// Messages returns a copy of peer's history in order.
func (s *Store) Messages(peer account.Account) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peer]
	if !ok {
		return nil
	}
	return append([]Message(nil), c.messages...)
}

func (s *Store) Len(peer account.Account) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[peer]; ok {
		return len(c.messages)
	}
	return 0
}

// Message looks up a message by id in peer's conversation.
func (s *Store) Message(peer account.Account, id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peer]
	if !ok {
		return Message{}, false
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Reactions returns the reactions in peer's conversation that point at refID.
func (s *Store) Reactions(peer account.Account, refID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peer]
	if !ok {
		return nil
	}
	var out []Message
	for _, m := range c.messages {
		if m.Type() == codec.TypeReaction && m.ReferenceID() == refID {
			out = append(out, m)
		}
	}
	return out
}

// SetReplyTarget marks the message with id msgID as the one the next send in
// peer's conversation replies to.
func (s *Store) SetReplyTarget(peer account.Account, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peer]
	if !ok {
		return ErrUnknownMessage
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == msgID {
			m := c.messages[i]
			c.replyTarget = &m
			return nil
		}
	}
	return ErrUnknownMessage
}

func (s *Store) ReplyTarget(peer account.Account) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peer]
	if !ok || c.replyTarget == nil {
		return Message{}, false
	}
	return *c.replyTarget, true
}

func (s *Store) ClearReplyTarget(peer account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[peer]; ok {
		c.replyTarget = nil
	}
}

// Peers lists peers with at least one message, most recently active first.
func (s *Store) Peers() []account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		peer account.Account
		ts   int64
	}
	var es []entry
	for p, c := range s.convs {
		if len(c.messages) > 0 {
			es = append(es, entry{p, c.lastTS})
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if es[i].ts != es[j].ts {
			return es[i].ts > es[j].ts
		}
		return es[i].peer < es[j].peer
	})
	out := make([]account.Account, len(es))
	for i, e := range es {
		out[i] = e.peer
	}
	return out
}

// Reset drops all conversations. Used when the session identity changes.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[account.Account]*conversation)
}
