// Package protocol is the request surface of the messaging network: sending
// encrypted messages, fetching message history and managing chat request
// approvals.
package protocol

import (
	"context"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/session"
)

// Wire-level tags for CiphertextMessage.
const (
	MessageTypeGiftWrap = "GiftWrap"
	EncryptionNIP44     = "NIP44"
)

// CiphertextMessage is an inbound message before decryption.
//
// For gift-wrapped messages FromDID is the wrap's one-time key; the real
// sender is only known after decryption.
type CiphertextMessage struct {
	ID             string
	FromDID        account.Account
	ToDID          account.Account
	Timestamp      int64 // unix millis
	MessageType    string
	EncryptionType string
	MessageContent string
	// Live is set for events delivered after the relay finished replaying
	// stored events.
	Live bool
}

// Ack is the network's acknowledgement of a send. ID is the authoritative
// message id.
type Ack struct {
	ID        string
	Timestamp int64
	Envelope  codec.Envelope
}

type RequestStatus string

const (
	Pending  RequestStatus = "Pending"
	Approved RequestStatus = "Approved"
	Rejected RequestStatus = "Rejected"
)

// Protocol is implemented by network bindings. Every method is a remote
// call; errors are raw library errors and are classified by the caller.
type Protocol interface {
	Approve(ctx context.Context, cfg *session.Config, peer account.Account) error
	Reject(ctx context.Context, cfg *session.Config, peer account.Account) error
	Send(ctx context.Context, cfg *session.Config, env codec.Envelope, to account.Account) (Ack, error)
	// History returns every stored message addressed to the session
	// account, including copies of its own sends.
	History(ctx context.Context, cfg *session.Config) ([]CiphertextMessage, error)
	// Statuses returns the recorded approval decisions. Peers without a
	// decision are Pending and absent from the map.
	Statuses(ctx context.Context, cfg *session.Config) (map[account.Account]RequestStatus, error)
}
