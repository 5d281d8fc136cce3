// Package account maps application profile identifiers to protocol accounts.
//
// A profile identifier is a Nostr public key, either as 64 hex characters or
// as an npub. The protocol account is the decentralized identifier
// "did:nostr:<hex>". Resolve and ProfileID are exact inverses of each other.
package account

import (
	"encoding/hex"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

const didPrefix = "did:nostr:"

// Account is a protocol-level identifier, "did:nostr:<hex pubkey>".
type Account string

// Identity pairs a canonical profile id with the account derived from it.
type Identity struct {
	ProfileID string
	Account   Account
}

// Resolve derives the account for a profile id. It returns false for an empty
// or malformed profile id.
func Resolve(profileID string) (Account, bool) {
	pk, ok := canonical(profileID)
	if !ok {
		return "", false
	}
	return Account(didPrefix + pk), true
}

// ProfileID is the inverse of Resolve: it strips the DID prefix and returns
// the canonical hex profile id.
func ProfileID(did string) (string, bool) {
	if !strings.HasPrefix(did, didPrefix) {
		return "", false
	}
	pk := did[len(didPrefix):]
	if !isHexKey(pk) {
		return "", false
	}
	return pk, true
}

// NewIdentity builds an Identity from a profile id in any accepted form.
func NewIdentity(profileID string) (Identity, bool) {
	pk, ok := canonical(profileID)
	if !ok {
		return Identity{}, false
	}
	return Identity{ProfileID: pk, Account: Account(didPrefix + pk)}, true
}

// FromPubKey returns the account for a hex public key as found on the wire.
// The key is not validated; use ProfileID on the result to check it.
func FromPubKey(pk string) Account {
	return Account(didPrefix + strings.ToLower(pk))
}

// PubKey returns the hex public key, or "" if the account is malformed.
func (a Account) PubKey() string {
	pk, _ := ProfileID(string(a))
	return pk
}

// NPub returns the bech32 form of the account's public key.
func (a Account) NPub() string {
	pk := a.PubKey()
	if pk == "" {
		return ""
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return ""
	}
	return npub
}

// Short returns the first 8 characters of the public key for display.
func (a Account) Short() string {
	pk := a.PubKey()
	if pk == "" {
		pk = string(a)
	}
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}

func (a Account) String() string { return string(a) }

func canonical(profileID string) (string, bool) {
	s := strings.TrimSpace(profileID)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "npub1") {
		prefix, val, err := nip19.Decode(s)
		if err != nil || prefix != "npub" {
			return "", false
		}
		pk, ok := val.(string)
		if !ok {
			return "", false
		}
		s = pk
	}
	s = strings.ToLower(s)
	if !isHexKey(s) {
		return "", false
	}
	return s, true
}

func isHexKey(s string) bool {
	if len(s) != 64 || s != strings.ToLower(s) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
