// Package decrypt turns inbound ciphertext messages into chat messages.
package decrypt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/codec"
	"github.com/pinpox/heychat/internal/protocol"
	"github.com/pinpox/heychat/internal/session"
)

var (
	errWrongRecipient = errors.New("not addressed to this account")
	errNotGiftWrap    = errors.New("not a gift wrap")
	errNotDM          = errors.New("unexpected rumor kind")
)

// Pipeline decrypts with the session signer. It holds no state: the same
// input always yields the same message.
type Pipeline struct{}

// Decrypt opens ct as the connected identity in cfg. Any failure is
// reported as DecryptionFailed.
func (Pipeline) Decrypt(ctx context.Context, cfg *session.Config, ct protocol.CiphertextMessage) (chat.Message, error) {
	if err := cfg.Validate(); err != nil {
		return chat.Message{}, err
	}
	self := cfg.Account()
	if ct.ToDID != "" && ct.ToDID != self {
		return chat.Message{}, chaterr.DecryptionFailed(errWrongRecipient)
	}

	var wrap nostr.Event
	if err := json.Unmarshal([]byte(ct.MessageContent), &wrap); err != nil {
		return chat.Message{}, chaterr.DecryptionFailed(err)
	}
	if wrap.Kind != protocol.KindGiftWrap {
		return chat.Message{}, chaterr.DecryptionFailed(errNotGiftWrap)
	}

	rumor, err := nip59.GiftUnwrap(wrap, func(otherPubKey, ciphertext string) (string, error) {
		return cfg.Signer.Decrypt(ctx, ciphertext, otherPubKey)
	})
	if err != nil {
		return chat.Message{}, chaterr.DecryptionFailed(err)
	}
	if rumor.Kind != protocol.KindRumor {
		return chat.Message{}, chaterr.DecryptionFailed(fmt.Errorf("%w %d", errNotDM, rumor.Kind))
	}

	intent, err := codec.Unmarshal([]byte(rumor.Content))
	if err != nil {
		return chat.Message{}, chaterr.DecryptionFailed(err)
	}

	from := account.FromPubKey(rumor.PubKey)
	to := self
	for _, tag := range rumor.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			to = account.FromPubKey(tag[1])
			break
		}
	}
	id := rumor.ID
	if id == "" {
		id = rumor.GetID()
	}
	return chat.Message{
		ID:        id,
		From:      from,
		To:        to,
		Timestamp: int64(rumor.CreatedAt) * 1000,
		Intent:    intent,
	}, nil
}
