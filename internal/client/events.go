package client

import (
	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/listener"
)

// Event is something the UI should react to.
type Event interface{ isEvent() }

// StateEvent reports a connection state change. Err is set when the change
// was caused by a failure; for ConnectionLost it matches
// chaterr.ErrConnectionLost.
type StateEvent struct {
	State listener.State
	Err   error
}

// MessageEvent is sent for every message newly added to a conversation,
// sent or received.
type MessageEvent struct {
	Peer    account.Account
	Message chat.Message
}

// NoticeEvent carries a user-facing notification.
type NoticeEvent struct {
	Text string
}

func (StateEvent) isEvent()   {}
func (MessageEvent) isEvent() {}
func (NoticeEvent) isEvent()  {}
