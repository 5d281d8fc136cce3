// Package testrelay runs an in-process Nostr relay for tests.
package testrelay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
)

// Relay is a khatru relay backed by an in-memory slice store.
type Relay struct {
	URL    string
	DB     *slicestore.SliceStore
	Khatru *khatru.Relay

	server *http.Server
}

// Start listens on a random local port and serves a relay until the test
// ends.
func Start(t testing.TB) *Relay {
	t.Helper()

	db := &slicestore.SliceStore{}
	if err := db.Init(); err != nil {
		t.Fatalf("slicestore.Init: %v", err)
	}

	relay := khatru.NewRelay()
	relay.Info.Name = "heychat-test-relay"
	relay.StoreEvent = append(relay.StoreEvent, db.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, db.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, db.DeleteEvent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	server := &http.Server{Handler: relay}
	go func() { _ = server.Serve(ln) }()

	r := &Relay{
		URL:    fmt.Sprintf("ws://127.0.0.1:%d", port),
		DB:     db,
		Khatru: relay,
		server: server,
	}
	t.Logf("test relay running at %s", r.URL)
	t.Cleanup(r.Close)
	return r
}

// Close stops accepting connections.
func (r *Relay) Close() {
	_ = r.server.Shutdown(context.Background())
}
