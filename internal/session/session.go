// Package session holds the immutable credential snapshot shared by the
// outbound and inbound chat paths.
package session

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/keys"
)

// Environment selects the relay set a session talks to. It is fixed for the
// lifetime of a session.
type Environment string

const (
	Prod    Environment = "prod"
	Staging Environment = "staging"
	Dev     Environment = "dev"
)

// Valid reports whether e is one of the known environments.
func (e Environment) Valid() bool {
	switch e {
	case Prod, Staging, Dev:
		return true
	}
	return false
}

// Signer produces signatures and NIP-44 ciphertexts for the session account.
// Its method set matches nostr.Keyer so remote signers can be plugged in.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
	Encrypt(ctx context.Context, plaintext, recipientPubKey string) (string, error)
	Decrypt(ctx context.Context, ciphertext, senderPubKey string) (string, error)
}

// Config is a snapshot of everything needed to talk to the protocol as one
// identity. It is never mutated; a change of identity or key produces a new
// Config.
type Config struct {
	Identity    account.Identity
	Environment Environment
	PrivateKey  *keys.PrivateKey
	Signer      Signer
}

// Build assembles a Config. It performs no I/O and no validation; use
// Validate before any cryptographic operation.
func Build(identity account.Identity, env Environment, key *keys.PrivateKey, signer Signer) *Config {
	return &Config{
		Identity:    identity,
		Environment: env,
		PrivateKey:  key,
		Signer:      signer,
	}
}

// Validate returns ErrNotAuthenticated if the key or signer is missing, or if
// the key has already been discarded.
func (c *Config) Validate() error {
	if c == nil || c.Signer == nil || c.PrivateKey.IsZero() {
		return chaterr.ErrNotAuthenticated
	}
	if _, ok := account.ProfileID(string(c.Identity.Account)); !ok {
		return chaterr.ErrNotAuthenticated
	}
	return nil
}

// Account is shorthand for c.Identity.Account.
func (c *Config) Account() account.Account {
	if c == nil {
		return ""
	}
	return c.Identity.Account
}
