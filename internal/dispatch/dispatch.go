// Package dispatch runs the mutating chat operations: approve, reject and
// send.
package dispatch

import (
	"context"

	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/metrics"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
)

// Dispatcher executes each operation exactly once. It never retries: a
// failed send may or may not have reached the network, and resubmitting is
// the caller's decision.
type Dispatcher struct {
	proto   protocol.Protocol
	store   *chat.Store
	log     *logging.Logger
	metrics *metrics.Metrics
}

func New(proto protocol.Protocol, store *chat.Store, log *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{proto: proto, store: store, log: log, metrics: m}
}

func (d *Dispatcher) Approve(ctx context.Context, cfg *session.Config, peer account.Account) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := d.proto.Approve(ctx, cfg, peer); err != nil {
		d.log.Warningf("approve %s: %v", peer.Short(), err)
		return chaterr.ApprovalFailed(err)
	}
	d.log.Infof("approved %s", peer.Short())
	return nil
}

func (d *Dispatcher) Reject(ctx context.Context, cfg *session.Config, peer account.Account) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := d.proto.Reject(ctx, cfg, peer); err != nil {
		d.log.Warningf("reject %s: %v", peer.Short(), err)
		return chaterr.RejectionFailed(err)
	}
	d.log.Infof("rejected %s", peer.Short())
	return nil
}

// Send encodes intent and hands it to the protocol. On success the sent
// message is appended to peer's conversation under the acknowledged id.
// Encoding errors such as codec.ErrMissingReference are returned unchanged,
// before any network call.
func (d *Dispatcher) Send(ctx context.Context, cfg *session.Config, intent codec.Intent, peer account.Account) (protocol.Ack, error) {
	if err := cfg.Validate(); err != nil {
		return protocol.Ack{}, err
	}
	env, err := codec.Encode(intent)
	if err != nil {
		return protocol.Ack{}, err
	}

	ack, err := d.proto.Send(ctx, cfg, env, peer)
	if err != nil {
		d.metrics.SendFailed()
		d.log.Warningf("send %s to %s: %v", intent.Type(), peer.Short(), err)
		return protocol.Ack{}, chaterr.SendFailed(err)
	}
	d.metrics.Sent(string(intent.Type()))
	d.log.Debugf("sent %s %s to %s", intent.Type(), ack.ID, peer.Short())

	if d.store != nil {
		d.store.Append(peer, chat.Message{
			ID:        ack.ID,
			From:      cfg.Account(),
			To:        peer,
			Timestamp: ack.Timestamp,
			Intent:    intent,
		})
	}
	return ack, nil
}
