package account

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func testPubKey(t *testing.T) string {
	t.Helper()
	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	return pk
}

func TestResolve(t *testing.T) {
	pk := testPubKey(t)
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}
	want := Account("did:nostr:" + pk)

	tests := []struct {
		name   string
		input  string
		want   Account
		wantOK bool
	}{
		{"hex", pk, want, true},
		{"upper hex", strings.ToUpper(pk), want, true},
		{"npub", npub, want, true},
		{"padded", "  " + pk + "\n", want, true},
		{"empty", "", "", false},
		{"short hex", pk[:10], "", false},
		{"not hex", strings.Repeat("z", 64), "", false},
		{"bad npub", "npub1invalid", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	pk := testPubKey(t)
	a, _ := Resolve(pk)
	b, _ := Resolve(pk)
	if a != b {
		t.Errorf("Resolve not deterministic: %q != %q", a, b)
	}
}

func TestProfileIDInvertsResolve(t *testing.T) {
	pk := testPubKey(t)
	acct, ok := Resolve(pk)
	if !ok {
		t.Fatal("Resolve failed")
	}
	got, ok := ProfileID(string(acct))
	if !ok || got != pk {
		t.Errorf("ProfileID(%q) = (%q, %v), want (%q, true)", acct, got, ok, pk)
	}

	for _, bad := range []string{"", pk, "did:key:" + pk, "did:nostr:", "did:nostr:" + strings.ToUpper(pk)} {
		if _, ok := ProfileID(bad); ok {
			t.Errorf("ProfileID(%q) unexpectedly ok", bad)
		}
	}
}

func TestNewIdentity(t *testing.T) {
	pk := testPubKey(t)
	npub, _ := nip19.EncodePublicKey(pk)
	id, ok := NewIdentity(npub)
	if !ok {
		t.Fatal("NewIdentity failed")
	}
	if id.ProfileID != pk {
		t.Errorf("ProfileID = %q, want %q", id.ProfileID, pk)
	}
	if id.Account.PubKey() != pk {
		t.Errorf("Account.PubKey() = %q, want %q", id.Account.PubKey(), pk)
	}
	if id.Account.NPub() != npub {
		t.Errorf("Account.NPub() = %q, want %q", id.Account.NPub(), npub)
	}
}

func TestShort(t *testing.T) {
	pk := testPubKey(t)
	if got := FromPubKey(pk).Short(); got != pk[:8] {
		t.Errorf("Short() = %q, want %q", got, pk[:8])
	}
	if got := Account("abc").Short(); got != "abc" {
		t.Errorf("Short() on malformed = %q, want %q", got, "abc")
	}
}
