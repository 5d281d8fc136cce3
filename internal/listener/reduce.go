package listener

import (
	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/metrics"
)

// Inbound is the outcome of decrypting one event. Live is false for events
// replayed from relay storage.
type Inbound struct {
	Message chat.Message
	Err     error
	Live    bool
}

type (
	// Drop discards the event. Reason is one of the metrics drop reasons.
	Drop struct {
		Reason string
		Err    error
	}
	// Append adds Message to Peer's conversation and, if it was new, shows
	// Notice to the user. Replayed messages carry no Notice.
	Append struct {
		Peer    account.Account
		Message chat.Message
		Notice  string
	}
)

func (Drop) isEffect()   {}
func (Append) isEffect() {}

// Reduce decides what to do with one decrypted inbound event for the
// connected identity self. It is pure.
func Reduce(self account.Identity, in Inbound) []Effect {
	if in.Err != nil {
		return []Effect{Drop{Reason: metrics.DropDecrypt, Err: in.Err}}
	}
	sender, ok := account.ProfileID(string(in.Message.From))
	if !ok {
		return []Effect{Drop{Reason: metrics.DropSender}}
	}
	if sender == self.ProfileID {
		return []Effect{Drop{Reason: metrics.DropEcho}}
	}
	app := Append{Peer: in.Message.From, Message: in.Message}
	if in.Live {
		app.Notice = "New message from " + in.Message.From.Short()
	}
	return []Effect{app}
}
