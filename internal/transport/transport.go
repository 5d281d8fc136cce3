// Package transport provides the real-time inbound connection: a live
// subscription for gift wraps addressed to the session account on every
// relay of the session environment.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	hlog "github.com/pinpox/heychat/internal/log"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
)

var (
	ErrClosed        = errors.New("transport: closed")
	ErrAllRelaysDown = errors.New("transport: all relay subscriptions ended")
)

// Conn is an open inbound connection. Events is closed when the connection
// is lost or closed; Err then reports why.
type Conn interface {
	Events() <-chan protocol.CiphertextMessage
	Err() error
	Close() error
}

// Dialer opens connections for a session.
type Dialer interface {
	Dial(ctx context.Context, cfg *session.Config) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg *session.Config) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, cfg *session.Config) (Conn, error) { return f(ctx, cfg) }

// RelayDialer subscribes to kind 1059 events p-tagged to the session
// account on each relay of the environment. The connection stays up while
// at least one relay subscription is alive.
type RelayDialer struct {
	Relays map[session.Environment][]string
	// Since is the earliest message time of interest; zero asks relays for
	// everything they have.
	Since nostr.Timestamp
	// DialTimeout bounds each relay handshake when ctx has no deadline.
	DialTimeout time.Duration

	Log *logging.Logger
}

func (d *RelayDialer) Dial(ctx context.Context, cfg *session.Config) (Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := d.Log
	if log == nil {
		log = hlog.Discard("transport")
	}
	urls := d.Relays[cfg.Environment]
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w %q", protocol.ErrNoRelays, cfg.Environment)
	}
	if _, ok := ctx.Deadline(); !ok && d.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.DialTimeout)
		defer cancel()
	}

	filter := nostr.Filter{
		Kinds: []int{protocol.KindGiftWrap},
		Tags:  nostr.TagMap{"p": {cfg.Account().PubKey()}},
	}
	if d.Since > 0 {
		since := protocol.GiftWrapSince(d.Since)
		filter.Since = &since
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &relayConn{
		ctx:    connCtx,
		cancel: cancel,
		events: make(chan protocol.CiphertextMessage, 64),
		log:    log,
	}

	var lastErr error
	for _, url := range urls {
		r := nostr.NewRelay(connCtx, url)
		if err := r.Connect(ctx); err != nil {
			log.Warningf("connect %s: %v", url, err)
			lastErr = err
			continue
		}
		sub, err := r.Subscribe(connCtx, nostr.Filters{filter})
		if err != nil {
			log.Warningf("subscribe %s: %v", url, err)
			r.Close()
			lastErr = err
			continue
		}
		c.relays = append(c.relays, r)
		c.wg.Add(1)
		go c.pump(r, sub)
	}
	if len(c.relays) == 0 {
		cancel()
		return nil, fmt.Errorf("transport: no relay reachable: %w", lastErr)
	}
	log.Infof("subscribed on %d/%d relays", len(c.relays), len(urls))

	go func() {
		c.wg.Wait()
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrAllRelaysDown
		}
		c.mu.Unlock()
		close(c.events)
	}()
	return c, nil
}

type relayConn struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan protocol.CiphertextMessage
	relays []*nostr.Relay
	wg     sync.WaitGroup
	log    *logging.Logger

	mu  sync.Mutex
	err error
}

func (c *relayConn) pump(r *nostr.Relay, sub *nostr.Subscription) {
	defer c.wg.Done()
	live := false
	for {
		select {
		case <-sub.EndOfStoredEvents:
			c.log.Debugf("%s: stored events replayed", r.URL)
			live = true
		case evt, ok := <-sub.Events:
			if !ok {
				c.log.Debugf("%s: subscription ended", r.URL)
				return
			}
			if evt.Kind != protocol.KindGiftWrap {
				continue
			}
			ct := protocol.FromEvent(evt)
			ct.Live = live
			select {
			case c.events <- ct:
			case <-c.ctx.Done():
				return
			}
		case reason := <-sub.ClosedReason:
			c.log.Warningf("%s: subscription closed by relay: %s", r.URL, reason)
			return
		case <-r.Context().Done():
			c.log.Warningf("%s: connection lost", r.URL)
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *relayConn) Events() <-chan protocol.CiphertextMessage { return c.events }

func (c *relayConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *relayConn) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	c.cancel()
	for _, r := range c.relays {
		r.Close()
	}
	return nil
}
