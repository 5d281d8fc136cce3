package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/session"
)

const (
	KindRumor        = 14
	KindGiftWrap     = 1059
	KindDMRelayList  = 10050
	KindAppData      = 30078
	approvalsDTag    = "heychat/chat-requests"
	defaultTimeout   = 10 * time.Second
	defaultHistory   = 500
	giftWrapBackdate = 3 * 24 * 60 * 60
)

var ErrNoRelays = errors.New("protocol: no relays configured for environment")

// Nostr implements Protocol over a set of Nostr relays. Messages are NIP-17
// style gift wraps; approval decisions live in one self-encrypted
// application-data event.
type Nostr struct {
	Pool   *nostr.SimplePool
	Relays map[session.Environment][]string

	// Timeout bounds each call when the caller's context has no deadline.
	Timeout time.Duration
	// HistoryLimit caps the number of wraps fetched per relay.
	HistoryLimit int

	log *logging.Logger

	// mu serialises read-modify-write of the approvals event.
	mu sync.Mutex

	// known holds the newest approvals seen per account, so a write never
	// starts from less than what was already read or written.
	knownMu sync.Mutex
	known   map[string]approvals
}

type approvals struct {
	statuses map[string]RequestStatus
	at       nostr.Timestamp
}

func (n *Nostr) lastKnown(self string) (approvals, bool) {
	n.knownMu.Lock()
	defer n.knownMu.Unlock()
	a, ok := n.known[self]
	if !ok {
		return approvals{}, false
	}
	return approvals{statuses: maps.Clone(a.statuses), at: a.at}, true
}

func (n *Nostr) remember(self string, statuses map[string]RequestStatus, at nostr.Timestamp) {
	n.knownMu.Lock()
	defer n.knownMu.Unlock()
	if a, ok := n.known[self]; ok && a.at > at {
		return
	}
	if n.known == nil {
		n.known = make(map[string]approvals)
	}
	n.known[self] = approvals{statuses: maps.Clone(statuses), at: at}
}

func NewNostr(pool *nostr.SimplePool, relays map[session.Environment][]string, log *logging.Logger) *Nostr {
	return &Nostr{
		Pool:         pool,
		Relays:       relays,
		Timeout:      defaultTimeout,
		HistoryLimit: defaultHistory,
		log:          log,
	}
}

func (n *Nostr) relays(env session.Environment) ([]string, error) {
	rs := n.Relays[env]
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoRelays, env)
	}
	return rs, nil
}

func (n *Nostr) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || n.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.Timeout)
}

// Send wraps env in a kind 14 rumor and publishes two gift wraps: one to the
// recipient's DM relays and a copy to the sender's own relays.
func (n *Nostr) Send(ctx context.Context, cfg *session.Config, env codec.Envelope, to account.Account) (Ack, error) {
	if err := cfg.Validate(); err != nil {
		return Ack{}, err
	}
	recipient := to.PubKey()
	if recipient == "" {
		return Ack{}, fmt.Errorf("protocol: invalid recipient %q", to)
	}
	self := cfg.Account().PubKey()
	relays, err := n.relays(cfg.Environment)
	if err != nil {
		return Ack{}, err
	}

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	rumor, err := NewRumor(cfg, env, recipient)
	if err != nil {
		return Ack{}, err
	}

	toRecipient, err := GiftWrap(ctx, cfg, rumor, recipient)
	if err != nil {
		return Ack{}, err
	}
	theirRelays := n.DMRelays(ctx, recipient, relays)
	if err := n.publish(ctx, theirRelays, toRecipient); err != nil {
		return Ack{}, fmt.Errorf("protocol: publish to recipient: %w", err)
	}
	n.log.Debugf("sent %s to %s via %d relays", rumor.ID[:8], to.Short(), len(theirRelays))

	if recipient != self {
		toSelf, err := GiftWrap(ctx, cfg, rumor, self)
		if err != nil {
			n.log.Warningf("self copy of %s not wrapped: %v", rumor.ID[:8], err)
		} else if err := n.publish(ctx, relays, toSelf); err != nil {
			n.log.Warningf("self copy of %s not stored: %v", rumor.ID[:8], err)
		}
	}

	return Ack{
		ID:        rumor.ID,
		Timestamp: int64(rumor.CreatedAt) * 1000,
		Envelope:  env,
	}, nil
}

// NewRumor builds the unsigned kind 14 event that carries env from the
// session account to the hex public key to.
func NewRumor(cfg *session.Config, env codec.Envelope, to string) (nostr.Event, error) {
	content, err := json.Marshal(env)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	rumor := nostr.Event{
		Kind:      KindRumor,
		PubKey:    cfg.Account().PubKey(),
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", to}},
		Content:   string(content),
	}
	if env.Message.Reference != "" {
		rumor.Tags = append(rumor.Tags, nostr.Tag{"e", env.Message.Reference})
	}
	rumor.ID = rumor.GetID()
	return rumor, nil
}

// GiftWrap seals rumor with the session signer and wraps it for to under a
// one-time key.
func GiftWrap(ctx context.Context, cfg *session.Config, rumor nostr.Event, to string) (nostr.Event, error) {
	wrapped, err := nip59.GiftWrap(
		rumor,
		to,
		func(plaintext string) (string, error) {
			return cfg.Signer.Encrypt(ctx, plaintext, to)
		},
		func(evt *nostr.Event) error {
			return cfg.Signer.SignEvent(ctx, evt)
		},
		nil,
	)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("protocol: gift wrap: %w", err)
	}
	return wrapped, nil
}

// History fetches the gift wraps addressed to the session account.
func (n *Nostr) History(ctx context.Context, cfg *session.Config) ([]CiphertextMessage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	relays, err := n.relays(cfg.Environment)
	if err != nil {
		return nil, err
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	evts, err := n.query(ctx, relays, nostr.Filter{
		Kinds: []int{KindGiftWrap},
		Tags:  nostr.TagMap{"p": {cfg.Account().PubKey()}},
		Limit: n.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]CiphertextMessage, 0, len(evts))
	for _, evt := range evts {
		out = append(out, FromEvent(evt))
	}
	return out, nil
}

func (n *Nostr) Statuses(ctx context.Context, cfg *session.Config) (map[account.Account]RequestStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	raw, _, err := n.loadStatuses(ctx, cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[account.Account]RequestStatus, len(raw))
	for pk, st := range raw {
		out[account.FromPubKey(pk)] = st
	}
	return out, nil
}

func (n *Nostr) Approve(ctx context.Context, cfg *session.Config, peer account.Account) error {
	return n.setStatus(ctx, cfg, peer, Approved)
}

func (n *Nostr) Reject(ctx context.Context, cfg *session.Config, peer account.Account) error {
	return n.setStatus(ctx, cfg, peer, Rejected)
}

func (n *Nostr) setStatus(ctx context.Context, cfg *session.Config, peer account.Account, status RequestStatus) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	pk := peer.PubKey()
	if pk == "" {
		return fmt.Errorf("protocol: invalid peer %q", peer)
	}
	relays, err := n.relays(cfg.Environment)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	statuses, latest, err := n.loadStatuses(ctx, cfg)
	if err != nil {
		return err
	}
	statuses[pk] = status

	plaintext, err := json.Marshal(statuses)
	if err != nil {
		return err
	}
	self := cfg.Account().PubKey()
	ciphertext, err := cfg.Signer.Encrypt(ctx, string(plaintext), self)
	if err != nil {
		return fmt.Errorf("protocol: encrypt approvals: %w", err)
	}

	// Replaceable events tie-break on id within the same second, so force
	// the new version strictly after the one it replaces.
	createdAt := nostr.Now()
	if createdAt <= latest {
		createdAt = latest + 1
	}
	evt := nostr.Event{
		Kind:      KindAppData,
		CreatedAt: createdAt,
		Tags:      nostr.Tags{{"d", approvalsDTag}},
		Content:   ciphertext,
	}
	if err := cfg.Signer.SignEvent(ctx, &evt); err != nil {
		return fmt.Errorf("protocol: sign approvals: %w", err)
	}
	if err := n.publish(ctx, relays, evt); err != nil {
		return fmt.Errorf("protocol: publish approvals: %w", err)
	}
	n.remember(self, statuses, createdAt)
	n.log.Debugf("%s %s", status, peer.Short())
	return nil
}

// loadStatuses returns the newest approvals map keyed by hex pubkey, and the
// timestamp of the event it came from. When the relays only hold an older
// version, or none at all, the last one this binding saw wins.
func (n *Nostr) loadStatuses(ctx context.Context, cfg *session.Config) (map[string]RequestStatus, nostr.Timestamp, error) {
	relays, err := n.relays(cfg.Environment)
	if err != nil {
		return nil, 0, err
	}
	self := cfg.Account().PubKey()
	evts, err := n.query(ctx, relays, nostr.Filter{
		Kinds:   []int{KindAppData},
		Authors: []string{self},
		Tags:    nostr.TagMap{"d": {approvalsDTag}},
	})
	if err != nil {
		return nil, 0, err
	}

	var newest *nostr.Event
	for _, evt := range evts {
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if known, ok := n.lastKnown(self); ok && (newest == nil || newest.CreatedAt < known.at) {
		n.log.Debugf("relays returned no current approvals, using the %d decisions last seen", len(known.statuses))
		return known.statuses, known.at, nil
	}
	statuses := make(map[string]RequestStatus)
	if newest == nil || newest.Content == "" {
		return statuses, 0, nil
	}
	plaintext, err := cfg.Signer.Decrypt(ctx, newest.Content, self)
	if err != nil {
		return nil, 0, fmt.Errorf("protocol: decrypt approvals: %w", err)
	}
	if err := json.Unmarshal([]byte(plaintext), &statuses); err != nil {
		return nil, 0, fmt.Errorf("protocol: parse approvals: %w", err)
	}
	n.remember(self, statuses, newest.CreatedAt)
	return statuses, newest.CreatedAt, nil
}

// PublishDMRelays announces the environment's relays as the account's DM
// inbox (kind 10050) so peers know where to deliver gift wraps.
func (n *Nostr) PublishDMRelays(ctx context.Context, cfg *session.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	relays, err := n.relays(cfg.Environment)
	if err != nil {
		return err
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	evt := BuildDMRelaysEvent(relays)
	if err := cfg.Signer.SignEvent(ctx, &evt); err != nil {
		return fmt.Errorf("protocol: sign dm relays: %w", err)
	}
	return n.publish(ctx, relays, evt)
}

// BuildDMRelaysEvent returns an unsigned kind 10050 event listing relays.
func BuildDMRelaysEvent(relays []string) nostr.Event {
	tags := make(nostr.Tags, 0, len(relays))
	for _, r := range relays {
		tags = append(tags, nostr.Tag{"relay", r})
	}
	return nostr.Event{
		Kind:      KindDMRelayList,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
}

// DMRelays looks up pk's published DM inbox relays on every fallback relay
// and uses the newest list, falling back to fallback when none is published.
func (n *Nostr) DMRelays(ctx context.Context, pk string, fallback []string) []string {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	evts, err := n.query(ctx, fallback, nostr.Filter{
		Kinds:   []int{KindDMRelayList},
		Authors: []string{pk},
	})
	if err != nil {
		n.log.Debugf("dm relays of %s: %v", pk, err)
		return fallback
	}
	var newest *nostr.Event
	for _, evt := range evts {
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if newest == nil {
		return fallback
	}
	var out []string
	for _, tag := range newest.Tags {
		if len(tag) >= 2 && tag[0] == "relay" {
			out = append(out, nostr.NormalizeURL(tag[1]))
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (n *Nostr) publish(ctx context.Context, relays []string, evt nostr.Event) error {
	if len(relays) == 0 {
		return ErrNoRelays
	}
	ok := 0
	var lastErr error
	for res := range n.Pool.PublishMany(ctx, relays, evt) {
		if res.Error != nil {
			n.log.Debugf("publish kind %d to %s: %v", evt.Kind, res.RelayURL, res.Error)
			lastErr = res.Error
			continue
		}
		ok++
	}
	if ok == 0 {
		if lastErr == nil {
			lastErr = errors.New("no relay accepted the event")
		}
		return lastErr
	}
	return nil
}

// query runs filter against every relay and merges the results. It fails
// only if no relay answered.
func (n *Nostr) query(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		seen    = make(map[string]struct{})
		out     []*nostr.Event
		failed  int
		lastErr error
	)
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			evts, err := n.querySync(ctx, url, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				n.log.Debugf("query %s: %v", url, err)
				failed++
				lastErr = err
				return
			}
			for _, evt := range evts {
				if _, dup := seen[evt.ID]; dup {
					continue
				}
				seen[evt.ID] = struct{}{}
				out = append(out, evt)
			}
		}(url)
	}
	wg.Wait()
	if failed == len(relays) {
		return nil, fmt.Errorf("protocol: query failed on all relays: %w", lastErr)
	}
	return out, nil
}

func (n *Nostr) querySync(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	r, err := n.Pool.EnsureRelay(url)
	if err != nil {
		return nil, err
	}
	return r.QuerySync(ctx, filter)
}

// FromEvent converts a gift wrap into its ciphertext form.
func FromEvent(evt *nostr.Event) CiphertextMessage {
	var to account.Account
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			to = account.FromPubKey(tag[1])
			break
		}
	}
	raw, _ := json.Marshal(evt)
	return CiphertextMessage{
		ID:             evt.ID,
		FromDID:        account.FromPubKey(evt.PubKey),
		ToDID:          to,
		Timestamp:      int64(evt.CreatedAt) * 1000,
		MessageType:    MessageTypeGiftWrap,
		EncryptionType: EncryptionNIP44,
		MessageContent: string(raw),
	}
}

// GiftWrapSince returns the since value to use for a gift wrap filter that
// should cover everything from t on. Wrap timestamps are randomised up to
// two days into the past.
func GiftWrapSince(t nostr.Timestamp) nostr.Timestamp {
	if t <= giftWrapBackdate {
		return 0
	}
	return t - giftWrapBackdate
}
