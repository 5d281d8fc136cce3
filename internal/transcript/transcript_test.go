package transcript

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/codec"
)

const (
	alice = account.Account("did:nostr:1111111111111111111111111111111111111111111111111111111111111111")
	bob   = account.Account("did:nostr:2222222222222222222222222222222222222222222222222222222222222222")
)

func TestPath(t *testing.T) {
	got := Path("/tmp/logs", bob)
	if got != "/tmp/logs/dm_2222222222222222222222222222222222222222222222222222222222222222.log" {
		t.Errorf("unexpected path: %s", got)
	}

	got = Path("/tmp/logs", account.Account("did:x/../y"))
	if strings.Contains(got[len("/tmp/logs/"):], "/") {
		t.Errorf("path escapes the transcript dir: %s", got)
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	w := New(t.TempDir(), nil)

	msgs := []chat.Message{
		{ID: "m1", From: alice, To: bob, Timestamp: 1700000001123, Intent: codec.Text{Content: "hello\tworld"}},
		{ID: "m2", From: bob, To: alice, Timestamp: 1700000002000, Intent: codec.Reaction{Content: "👍", Reference: "m1"}},
		{ID: "m3", From: alice, To: bob, Timestamp: 1700000003000, Intent: codec.Reply{Reference: "m2", Body: codec.Text{Content: "line1\nline2"}}},
		{ID: "m4", From: bob, To: alice, Timestamp: 1700000004000, Intent: codec.Attachment{File: codec.File{URL: "https://b.example/abc", Name: "cat.png", MimeType: "image/png", Size: 42}}},
	}
	for _, msg := range msgs {
		w.MessageAppended(bob, msg)
	}

	if _, err := os.Stat(Path(w.Dir, bob)); err != nil {
		t.Fatalf("transcript not created: %v", err)
	}

	loaded, err := w.Load(bob, 100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(loaded))
	}
	for i, msg := range msgs {
		got := loaded[i]
		if got.ID != msg.ID || got.From != msg.From || got.To != msg.To || got.Timestamp != msg.Timestamp {
			t.Errorf("msg[%d] header: got %+v, want %+v", i, got, msg)
		}
		if fmt.Sprint(got.Intent) != fmt.Sprint(msg.Intent) {
			t.Errorf("msg[%d] intent: got %#v, want %#v", i, got.Intent, msg.Intent)
		}
	}
}

func TestObserverRecordsStoreAppends(t *testing.T) {
	w := New(t.TempDir(), nil)
	store := chat.NewStore(0, w)

	msg := chat.Message{ID: "m1", From: alice, To: bob, Timestamp: 1700000000000, Intent: codec.Text{Content: "hi"}}
	store.Append(bob, msg)
	store.Append(bob, msg)

	loaded, err := w.Load(bob, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("duplicate append reached the transcript: %d lines", len(loaded))
	}
}

func TestLoadMaxMessages(t *testing.T) {
	w := New(t.TempDir(), nil)
	for i := 0; i < 100; i++ {
		w.MessageAppended(bob, chat.Message{
			ID:        fmt.Sprintf("m%d", i),
			From:      bob,
			To:        alice,
			Timestamp: int64(1700000000+i) * 1000,
			Intent:    codec.Text{Content: "message"},
		})
	}

	loaded, err := w.Load(bob, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(loaded))
	}
	if loaded[0].ID != "m90" || loaded[9].ID != "m99" {
		t.Errorf("loaded %s..%s, want m90..m99", loaded[0].ID, loaded[9].ID)
	}
}

func TestLoadLargeFile(t *testing.T) {
	w := New(t.TempDir(), nil)
	f, err := os.Create(Path(w.Dir, bob))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100000; i++ {
		fmt.Fprintf(f, "2024-01-15 10:30:45.000\tm%d\t%s\t%s\t{\"message\":{\"content\":\"n\",\"type\":\"Text\"}}\n", i, bob, alice)
	}
	f.Close()

	loaded, err := w.Load(bob, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(loaded))
	}
	if loaded[49].ID != "m99999" {
		t.Errorf("last message = %s, want m99999", loaded[49].ID)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	w := New(t.TempDir(), nil)
	content := "garbage\n" +
		"2024-01-15 10:30:45.000\tm1\t" + string(bob) + "\t" + string(alice) + "\tnot json\n" +
		"2024-01-15 10:30:46.000\tm2\t" + string(bob) + "\t" + string(alice) + "\t{\"message\":{\"content\":\"ok\",\"type\":\"Text\"}}\n"
	if err := os.WriteFile(Path(w.Dir, bob), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := w.Load(bob, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != "m2" {
		t.Fatalf("got %+v, want only m2", loaded)
	}
}

func TestLoadMissingFile(t *testing.T) {
	loaded, err := New(t.TempDir(), nil).Load(alice, 10)
	if err != nil || loaded != nil {
		t.Fatalf("Load = %v, %v; want nil, nil", loaded, err)
	}
}
