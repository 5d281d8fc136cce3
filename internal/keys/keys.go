// Package keys manages the session private key: NIP-49 decryption of the
// at-rest key, an in-memory key that can be zeroed, and a local signer.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip49"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chaterr"
)

// DefaultLogN is the scrypt cost used when encrypting new keys.
const DefaultLogN = 16

// ErrInvalidKeyMaterial is returned when a required argument is missing.
var ErrInvalidKeyMaterial = errors.New("keys: password, account and encrypted key are required")

// Material is the at-rest form of a private key plus the password that opens it.
type Material struct {
	EncryptedBlob string
	Password      string
}

// PrivateKey holds 32 bytes of secret key material. The zero value is unusable.
type PrivateKey struct {
	mu sync.RWMutex
	b  []byte
}

// FromHex parses a 64-char hex secret key.
func FromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != 32 {
		return nil, errors.New("keys: secret key must be 32 bytes of hex")
	}
	return &PrivateKey{b: b}, nil
}

// Generate creates a fresh random key.
func Generate() *PrivateKey {
	k, err := FromHex(nostr.GeneratePrivateKey())
	if err != nil {
		panic(err)
	}
	return k
}

// Hex returns the key in the hex form expected by the protocol library, or ""
// once the key has been zeroed. Each call allocates a new string that Zero
// cannot reach.
func (k *PrivateKey) Hex() string {
	if k == nil {
		return ""
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.b == nil {
		return ""
	}
	return hex.EncodeToString(k.b)
}

// PubKey derives the hex public key.
func (k *PrivateKey) PubKey() (string, error) {
	sk := k.Hex()
	if sk == "" {
		return "", errors.New("keys: key has been discarded")
	}
	return nostr.GetPublicKey(sk)
}

// Zero overwrites the key bytes and makes the key unusable.
//
// Only the bytes held by k are wiped. go-nostr takes secret keys as hex
// strings, so every signing, encryption or decryption call leaves an
// immutable copy from Hex behind until the garbage collector reclaims it.
func (k *PrivateKey) Zero() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.b {
		k.b[i] = 0
	}
	k.b = nil
}

// IsZero reports whether the key is missing or has been discarded.
func (k *PrivateKey) IsZero() bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.b == nil
}

// DecryptPrivateKey opens an ncryptsec blob with password and checks that the
// result belongs to acct. Every failure is reported as the same
// KeyDecryptionFailed error so callers learn nothing about the cause.
func DecryptPrivateKey(password string, acct account.Account, encryptedBlob string) (*PrivateKey, error) {
	if password == "" || encryptedBlob == "" {
		return nil, ErrInvalidKeyMaterial
	}
	want, ok := account.ProfileID(string(acct))
	if !ok {
		return nil, ErrInvalidKeyMaterial
	}

	sk, err := nip49.Decrypt(strings.TrimSpace(encryptedBlob), password)
	if err != nil {
		return nil, chaterr.ErrKeyDecryptionFailed
	}
	key, err := FromHex(sk)
	if err != nil {
		return nil, chaterr.ErrKeyDecryptionFailed
	}
	pk, err := key.PubKey()
	if err != nil || pk != want {
		key.Zero()
		return nil, chaterr.ErrKeyDecryptionFailed
	}
	return key, nil
}

// EncryptPrivateKey seals key with password as an ncryptsec string.
func EncryptPrivateKey(key *PrivateKey, password string, logN uint8) (string, error) {
	sk := key.Hex()
	if sk == "" || password == "" {
		return "", ErrInvalidKeyMaterial
	}
	blob, err := nip49.Encrypt(sk, password, logN, nip49.ClientDoesNotTrackThisData)
	if err != nil {
		return "", fmt.Errorf("keys: encrypt: %w", err)
	}
	return blob, nil
}
