// Package client owns the chat session of one user. It decrypts the key,
// builds the session snapshot and threads it through the dispatcher, the
// listener and the history queries.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/blossom"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/decrypt"
	"github.com/pinpox/heychat/internal/dispatch"
	"github.com/pinpox/heychat/internal/keys"
	"github.com/pinpox/heychat/internal/listener"
	hlog "github.com/pinpox/heychat/internal/log"
	"github.com/pinpox/heychat/internal/metrics"
	"github.com/pinpox/heychat/internal/notify"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
	"github.com/pinpox/heychat/internal/transcript"
	"github.com/pinpox/heychat/internal/transport"
)

var (
	ErrInvalidProfile = errors.New("client: invalid profile id")
	ErrInvalidPeer    = errors.New("client: invalid peer")
	ErrNoUploader     = errors.New("client: attachments are not configured")
)

// Options configures a Client. Only Relays is required; everything else has
// a working default.
type Options struct {
	Relays map[session.Environment][]string

	// Pool is shared by the default protocol binding.
	Pool       *nostr.SimplePool
	Protocol   protocol.Protocol
	Dialer     transport.Dialer
	Uploader   *blossom.Uploader
	Notifier   notify.Sink
	Transcript *transcript.Writer
	Metrics    *metrics.Metrics
	Logs       *hlog.Backend

	MaxMessages int
	// Since limits the live subscription to messages newer than this.
	Since nostr.Timestamp

	// Reconnect backoff of the listener.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client is safe for concurrent use. The session snapshot is swapped
// atomically; operations in flight keep the snapshot they started with.
type Client struct {
	opts     Options
	log      *logging.Logger
	proto    protocol.Protocol
	dialer   transport.Dialer
	dispatch *dispatch.Dispatcher
	store    *chat.Store
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc

	session atomic.Pointer[session.Config]
	newest  atomic.Int64

	// mu guards the listener, which is replaced on every login.
	mu       sync.Mutex
	listener *listener.Listener
}

func New(opts Options) *Client {
	c := &Client{
		opts:   opts,
		log:    logger(opts.Logs, "client"),
		events: make(chan Event, 256),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if opts.Protocol == nil {
		pool := opts.Pool
		if pool == nil {
			pool = nostr.NewSimplePool(c.ctx)
		}
		opts.Protocol = protocol.NewNostr(pool, opts.Relays, logger(opts.Logs, "protocol"))
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.RelayDialer{
			Relays:      opts.Relays,
			Since:       opts.Since,
			DialTimeout: 10 * time.Second,
			Log:         logger(opts.Logs, "transport"),
		}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	c.opts = opts
	c.proto = opts.Protocol
	c.dialer = opts.Dialer

	observers := []chat.Observer{chat.ObserverFunc(c.messageAppended)}
	if opts.Transcript != nil {
		observers = append(observers, opts.Transcript)
	}
	c.store = chat.NewStore(opts.MaxMessages, observers...)
	c.dispatch = dispatch.New(c.proto, c.store, logger(opts.Logs, "dispatch"), opts.Metrics)
	return c
}

func logger(b *hlog.Backend, module string) *logging.Logger {
	if b == nil {
		return hlog.Discard(module)
	}
	return b.GetLogger(module)
}

// Events delivers state changes, new messages and notices to the UI. Events
// are dropped when nobody reads them; the store stays authoritative.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debugf("event queue full, dropping %T", ev)
	}
}

func (c *Client) messageAppended(peer account.Account, msg chat.Message) {
	c.bumpNewest(msg.Timestamp)
	c.emit(MessageEvent{Peer: peer, Message: msg})
}

func (c *Client) bumpNewest(ts int64) {
	for {
		cur := c.newest.Load()
		if ts <= cur || c.newest.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Newest is the timestamp in unix millis of the newest message seen.
func (c *Client) Newest() int64 { return c.newest.Load() }

func (c *Client) Store() *chat.Store { return c.store }

// Session returns the current snapshot, or nil when logged out.
func (c *Client) Session() *session.Config { return c.session.Load() }

// Login decrypts the key material for profileID and starts a new session.
// A previous session is closed and its key zeroed.
func (c *Client) Login(profileID string, env session.Environment, material keys.Material) error {
	id, ok := account.NewIdentity(profileID)
	if !ok {
		return ErrInvalidProfile
	}
	if !env.Valid() {
		return fmt.Errorf("client: unknown environment %q", env)
	}
	key, err := keys.DecryptPrivateKey(material.Password, id.Account, material.EncryptedBlob)
	if err != nil {
		return err
	}
	c.startSession(session.Build(id, env, key, keys.NewLocalSigner(key)))
	c.log.Noticef("logged in as %s on %s", id.Account.Short(), env)
	return nil
}

// LoginWithSigner starts a session with an already unlocked key.
func (c *Client) LoginWithSigner(id account.Identity, env session.Environment, key *keys.PrivateKey, signer session.Signer) error {
	cfg := session.Build(id, env, key, signer)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.startSession(cfg)
	return nil
}

func (c *Client) startSession(cfg *session.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.session.Swap(cfg)
	if c.listener != nil {
		c.listener.Close()
	}
	if prev != nil && prev.PrivateKey != cfg.PrivateKey {
		prev.PrivateKey.Zero()
	}
	if prev == nil || prev.Identity != cfg.Identity {
		c.store.Reset()
	}

	c.listener = listener.New(cfg, listener.Config{
		Dialer:    c.dialer,
		Decrypter: decrypt.Pipeline{},
		Store:     c.store,
		Notifier:  notify.Multi{c.opts.Notifier, notify.Func(func(s string) { c.emit(NoticeEvent{Text: s}) })},
		Log:       logger(c.opts.Logs, "listener"),
		Metrics:   c.opts.Metrics,
		OnState:   func(s listener.State, err error) { c.emit(StateEvent{State: s, Err: stateErr(s, err)}) },
		BaseDelay: c.opts.BaseDelay,
		MaxDelay:  c.opts.MaxDelay,
		Jitter:    listener.DefaultJitter,
	})
}

func stateErr(s listener.State, err error) error {
	if s == listener.ConnectionLost {
		if err == nil {
			return chaterr.ErrConnectionLost
		}
		return chaterr.Wrap(chaterr.CodeConnectionLost, "connection lost", err)
	}
	return err
}

// Logout closes the connection, discards the key and forgets all
// conversations.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	if prev := c.session.Swap(nil); prev != nil {
		prev.PrivateKey.Zero()
		c.log.Noticef("logged out %s", prev.Account().Short())
	}
	c.store.Reset()
}

func (c *Client) currentListener() (*listener.Listener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil, chaterr.ErrNotAuthenticated
	}
	return c.listener, nil
}

// Connect opens the real-time connection. It returns at once; progress is
// reported as StateEvents.
func (c *Client) Connect() error {
	l, err := c.currentListener()
	if err != nil {
		return err
	}
	return l.Connect()
}

// Reconnect is the explicit retry after ConnectionLost.
func (c *Client) Reconnect() error {
	l, err := c.currentListener()
	if err != nil {
		return err
	}
	return l.Reconnect()
}

// State reports the connection state, Disconnected when logged out.
func (c *Client) State() listener.State {
	l, err := c.currentListener()
	if err != nil {
		return listener.Disconnected
	}
	return l.State()
}

// Close ends the session and releases the client's resources. The key is
// zeroed.
func (c *Client) Close() {
	c.Logout()
	c.cancel()
}

// PublishDMRelays announces the session's relays as its DM inbox when the
// protocol binding supports it.
func (c *Client) PublishDMRelays(ctx context.Context) error {
	p, ok := c.proto.(interface {
		PublishDMRelays(context.Context, *session.Config) error
	})
	if !ok {
		return nil
	}
	return p.PublishDMRelays(ctx, c.Session())
}

func peerAccount(peer account.Account) (account.Account, error) {
	if _, ok := account.ProfileID(string(peer)); !ok {
		return "", ErrInvalidPeer
	}
	return peer, nil
}

// Send sends text to peer. If a reply target is set for the conversation
// the message goes out as a Reply to it, and the target is cleared once the
// send succeeds.
func (c *Client) Send(ctx context.Context, peer account.Account, text string) (protocol.Ack, error) {
	return c.sendBody(ctx, peer, codec.Text{Content: text})
}

// SendAttachment uploads the file at path and sends it to peer, as a reply
// when a reply target is set.
func (c *Client) SendAttachment(ctx context.Context, peer account.Account, path string) (protocol.Ack, error) {
	cfg := c.Session()
	if err := cfg.Validate(); err != nil {
		return protocol.Ack{}, err
	}
	if c.opts.Uploader == nil {
		return protocol.Ack{}, ErrNoUploader
	}
	file, err := c.opts.Uploader.UploadFile(ctx, cfg.Signer, path)
	if err != nil {
		return protocol.Ack{}, chaterr.SendFailed(err)
	}
	return c.sendBody(ctx, peer, codec.Attachment{File: file})
}

func (c *Client) sendBody(ctx context.Context, peer account.Account, body codec.Intent) (protocol.Ack, error) {
	peer, err := peerAccount(peer)
	if err != nil {
		return protocol.Ack{}, err
	}
	intent := body
	target, replying := c.store.ReplyTarget(peer)
	if replying {
		intent = codec.Reply{Reference: target.ID, Body: body}
	}
	ack, err := c.dispatch.Send(ctx, c.Session(), intent, peer)
	if err != nil {
		return ack, err
	}
	if replying {
		c.store.ClearReplyTarget(peer)
	}
	return ack, nil
}

// React sends emoji as a reaction to the message id in peer's conversation.
func (c *Client) React(ctx context.Context, peer account.Account, messageID, emoji string) (protocol.Ack, error) {
	peer, err := peerAccount(peer)
	if err != nil {
		return protocol.Ack{}, err
	}
	return c.dispatch.Send(ctx, c.Session(), codec.Reaction{Content: emoji, Reference: messageID}, peer)
}

// SetReplyTarget marks a message of peer's conversation as the one the next
// send replies to.
func (c *Client) SetReplyTarget(peer account.Account, messageID string) error {
	return c.store.SetReplyTarget(peer, messageID)
}

func (c *Client) CancelReply(peer account.Account) { c.store.ClearReplyTarget(peer) }

func (c *Client) Approve(ctx context.Context, peer account.Account) error {
	peer, err := peerAccount(peer)
	if err != nil {
		return err
	}
	return c.dispatch.Approve(ctx, c.Session(), peer)
}

func (c *Client) Reject(ctx context.Context, peer account.Account) error {
	peer, err := peerAccount(peer)
	if err != nil {
		return err
	}
	return c.dispatch.Reject(ctx, c.Session(), peer)
}

// Feed is one conversation as returned by Chats and Requests, oldest
// message first.
type Feed struct {
	Peer     account.Account
	Status   protocol.RequestStatus
	Messages []chat.Message
}

// Last returns the newest message of the feed.
func (f Feed) Last() (chat.Message, bool) {
	if len(f.Messages) == 0 {
		return chat.Message{}, false
	}
	return f.Messages[len(f.Messages)-1], true
}

// Chats returns the accepted conversations: peers that were approved and
// peers the user has written to. Newest first.
func (c *Client) Chats(ctx context.Context) ([]Feed, error) {
	chats, _, err := c.feeds(ctx)
	return chats, err
}

// Requests returns conversations started by peers the user has neither
// approved, rejected nor answered. Newest first.
func (c *Client) Requests(ctx context.Context) ([]Feed, error) {
	_, requests, err := c.feeds(ctx)
	return requests, err
}

// LoadHistory fetches stored messages and merges them, together with the
// local transcripts, into the conversation store.
func (c *Client) LoadHistory(ctx context.Context) error {
	chats, requests, err := c.feeds(ctx)
	if err != nil {
		return err
	}
	max := c.opts.MaxMessages
	if max <= 0 {
		max = chat.DefaultMaxMessages
	}
	for _, f := range append(chats, requests...) {
		msgs := f.Messages
		if c.opts.Transcript != nil {
			local, err := c.opts.Transcript.Load(f.Peer, max)
			if err != nil {
				c.log.Warningf("transcript of %s: %v", f.Peer.Short(), err)
			}
			msgs = append(local, msgs...)
		}
		n := c.store.Load(f.Peer, msgs)
		for _, m := range msgs {
			c.bumpNewest(m.Timestamp)
		}
		c.log.Debugf("loaded %d messages with %s", n, f.Peer.Short())
	}
	return nil
}

func (c *Client) feeds(ctx context.Context) (chats, requests []Feed, err error) {
	cfg := c.Session()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	wraps, err := c.proto.History(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("client: history: %w", err)
	}
	statuses, err := c.proto.Statuses(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("client: request statuses: %w", err)
	}

	self := cfg.Account()
	byPeer := make(map[account.Account][]chat.Message)
	wrote := make(map[account.Account]bool)
	seen := make(map[string]bool)
	var pipeline decrypt.Pipeline
	for _, ct := range wraps {
		msg, err := pipeline.Decrypt(ctx, cfg, ct)
		if err != nil {
			c.log.Debugf("history: skipping %s: %v", ct.ID, err)
			continue
		}
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		peer := msg.From
		if msg.From == self {
			peer = msg.To
			wrote[peer] = true
		}
		if _, ok := account.ProfileID(string(peer)); !ok {
			continue
		}
		byPeer[peer] = append(byPeer[peer], msg)
	}
	for peer, st := range statuses {
		if st == protocol.Approved {
			if _, ok := byPeer[peer]; !ok {
				byPeer[peer] = nil
			}
		}
	}

	for peer, msgs := range byPeer {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
		st, ok := statuses[peer]
		if !ok {
			st = protocol.Pending
		}
		f := Feed{Peer: peer, Status: st, Messages: msgs}
		switch {
		case st == protocol.Approved || wrote[peer] || peer == self:
			chats = append(chats, f)
		case st == protocol.Pending:
			requests = append(requests, f)
		}
	}
	sortFeeds(chats)
	sortFeeds(requests)
	return chats, requests, nil
}

func sortFeeds(feeds []Feed) {
	sort.SliceStable(feeds, func(i, j int) bool {
		a, _ := feeds[i].Last()
		b, _ := feeds[j].Last()
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return feeds[i].Peer < feeds[j].Peer
	})
}
