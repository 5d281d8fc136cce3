// Package listener owns the real-time connection of a session. It keeps the
// connection up with bounded retries, decrypts inbound events, suppresses
// self-echoes and feeds new messages into the conversation store.
package listener

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/chat"
	hlog "github.com/pinpox/heychat/internal/log"
	"github.com/pinpox/heychat/internal/metrics"
	"github.com/pinpox/heychat/internal/notify"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
	"github.com/pinpox/heychat/internal/transport"
)

const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
	DefaultJitter    = 0.2
)

var ErrHalted = errors.New("listener: halted")

// Decrypter turns ciphertext into a message for the session.
type Decrypter interface {
	Decrypt(ctx context.Context, cfg *session.Config, ct protocol.CiphertextMessage) (chat.Message, error)
}

type Config struct {
	Dialer    transport.Dialer
	Decrypter Decrypter
	Store     *chat.Store
	Notifier  notify.Sink
	Log       *logging.Logger
	Metrics   *metrics.Metrics

	// OnState is called from the listener goroutine on every state change.
	// It must not block.
	OnState func(State, error)

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// Listener runs one session's inbound connection on a single goroutine.
// Inputs are queued to that goroutine, so conversation appends happen in
// arrival order.
type Listener struct {
	cfg     Config
	session *session.Config
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inputs chan Input
	wg     sync.WaitGroup
	start  sync.Once

	// mu guards halted and status. Effects that mutate shared state check
	// halted while holding it.
	mu     sync.Mutex
	halted bool
	status Status

	// Owned by the run goroutine.
	conn  transport.Conn
	timer *time.Timer
	seen  map[string]struct{}
}

func New(sess *session.Config, cfg Config) *Listener {
	if cfg.Log == nil {
		cfg.Log = hlog.Discard("listener")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:     cfg,
		session: sess,
		log:     cfg.Log,
		ctx:     ctx,
		cancel:  cancel,
		inputs:  make(chan Input, 16),
		seen:    make(map[string]struct{}),
	}
}

// Connect starts the connection, or restarts it after ConnectionLost. It
// returns immediately; progress is reported through OnState.
func (l *Listener) Connect() error {
	l.mu.Lock()
	halted := l.halted
	l.mu.Unlock()
	if halted {
		return ErrHalted
	}
	l.start.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
	l.post(ConnectRequested{})
	return nil
}

// Reconnect is Connect under the name the UI uses after ConnectionLost.
func (l *Listener) Reconnect() error { return l.Connect() }

// Close tears the listener down and waits for its goroutine. No store
// mutation or notification happens once Close has returned.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return
	}
	l.halted = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Listener) State() State { return l.Status().State }

func (l *Listener) post(in Input) {
	select {
	case l.inputs <- in:
	case <-l.ctx.Done():
	}
}

func (l *Listener) isHalted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

func (l *Listener) run() {
	defer l.wg.Done()
	defer l.teardown()

	for {
		var events <-chan protocol.CiphertextMessage
		if l.conn != nil {
			events = l.conn.Events()
		}
		select {
		case <-l.ctx.Done():
			return
		case in := <-l.inputs:
			l.step(in)
		case ct, ok := <-events:
			if !ok {
				err := l.conn.Err()
				l.log.Warningf("connection lost: %v", err)
				l.step(ConnLost{Err: err})
				continue
			}
			l.handle(ct)
		}
	}
}

func (l *Listener) teardown() {
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Lock()
	l.status = Status{State: Disconnected}
	l.mu.Unlock()
	l.cfg.Metrics.ConnectionState(int(Disconnected))
}

func (l *Listener) step(in Input) {
	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return
	}
	prev := l.status
	next, effects := Transition(prev, in)
	l.status = next
	l.mu.Unlock()

	if next.State != prev.State {
		l.log.Infof("%s -> %s (attempts %d)", prev.State, next.State, next.Attempts)
		l.cfg.Metrics.ConnectionState(int(next.State))
		if l.cfg.OnState != nil {
			l.cfg.OnState(next.State, inputErr(in))
		}
	}
	for _, e := range effects {
		l.apply(e)
	}
}

func inputErr(in Input) error {
	switch in := in.(type) {
	case DialFailed:
		return in.Err
	case ConnLost:
		return in.Err
	}
	return nil
}

func (l *Listener) apply(e Effect) {
	switch e := e.(type) {
	case Dial:
		conn, err := l.cfg.Dialer.Dial(l.ctx, l.session)
		if err != nil {
			l.log.Warningf("dial: %v", err)
			l.step(DialFailed{Err: err})
			return
		}
		if l.isHalted() {
			conn.Close()
			return
		}
		l.conn = conn
		l.step(DialSucceeded{})
	case ScheduleRetry:
		d := Delay(l.cfg.BaseDelay, l.cfg.MaxDelay, l.cfg.Jitter, e.Attempt-1)
		l.log.Noticef("reconnecting in %s (attempt %d of %d)", d.Round(time.Millisecond), e.Attempt+1, MaxAttempts)
		l.cfg.Metrics.Reconnect()
		if l.timer != nil {
			l.timer.Stop()
		}
		l.timer = time.AfterFunc(d, func() { l.post(RetryElapsed{}) })
	case CloseConn:
		if l.conn != nil {
			l.conn.Close()
			l.conn = nil
		}
	case SurfaceLost:
		l.log.Errorf("giving up after %d attempts: %v", MaxAttempts, e.Err)
	case Drop:
		l.cfg.Metrics.Dropped(e.Reason)
		if e.Err != nil {
			l.log.Debugf("dropped inbound event (%s): %v", e.Reason, e.Err)
		} else {
			l.log.Debugf("dropped inbound event (%s)", e.Reason)
		}
	case Append:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.halted {
			return
		}
		if !l.cfg.Store.Append(e.Peer, e.Message) {
			l.cfg.Metrics.Dropped(metrics.DropDuplicate)
			return
		}
		l.cfg.Metrics.Received()
		if e.Notice != "" {
			l.cfg.Notifier.Notify(e.Notice)
		}
	}
}

// handle decrypts one event and applies the reducer's decision. Wraps that
// were already processed are skipped without decrypting again.
func (l *Listener) handle(ct protocol.CiphertextMessage) {
	if ct.ID != "" {
		if _, ok := l.seen[ct.ID]; ok {
			l.cfg.Metrics.Dropped(metrics.DropDuplicate)
			return
		}
		l.seen[ct.ID] = struct{}{}
	}
	msg, err := l.cfg.Decrypter.Decrypt(l.ctx, l.session, ct)
	for _, e := range Reduce(l.session.Identity, Inbound{Message: msg, Err: err, Live: ct.Live}) {
		l.apply(e)
	}
}

// Delay is the exponential backoff with jitter for the given zero-based
// attempt.
func Delay(base, max time.Duration, jitter float64, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	if jitter > 0 {
		d *= 1 - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(d)
}
