package keys

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

var errDiscarded = errors.New("keys: key has been discarded")

// LocalSigner signs events and performs NIP-44 encryption with a key held in
// memory. It shares the key with the session, so zeroing the key disables
// the signer as well.
type LocalSigner struct {
	key *PrivateKey
}

func NewLocalSigner(key *PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) GetPublicKey(ctx context.Context) (string, error) {
	return s.key.PubKey()
}

func (s *LocalSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	sk := s.key.Hex()
	if sk == "" {
		return errDiscarded
	}
	return evt.Sign(sk)
}

func (s *LocalSigner) Encrypt(ctx context.Context, plaintext, recipientPubKey string) (string, error) {
	sk := s.key.Hex()
	if sk == "" {
		return "", errDiscarded
	}
	ck, err := nip44.GenerateConversationKey(recipientPubKey, sk)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, ck)
}

func (s *LocalSigner) Decrypt(ctx context.Context, ciphertext, senderPubKey string) (string, error) {
	sk := s.key.Hex()
	if sk == "" {
		return "", errDiscarded
	}
	ck, err := nip44.GenerateConversationKey(senderPubKey, sk)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, ck)
}
