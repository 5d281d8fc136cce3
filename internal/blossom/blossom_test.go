package blossom

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/keys"
)

func TestIsFilePath(t *testing.T) {
	t.Run("absolute existing file", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "test.txt")
		if err := os.WriteFile(f, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		if !IsFilePath(f) {
			t.Errorf("expected true for existing file %q", f)
		}
	})

	t.Run("nonexistent absolute path", func(t *testing.T) {
		if IsFilePath("/nonexistent/path/to/file.txt") {
			t.Error("expected false for nonexistent file")
		}
	})

	t.Run("relative path returns false", func(t *testing.T) {
		if IsFilePath("blossom.go") {
			t.Error("expected false for relative path")
		}
	})

	t.Run("multiline returns false", func(t *testing.T) {
		if IsFilePath("/some/path\nwith newline") {
			t.Error("expected false for multiline string")
		}
	})

	t.Run("directory returns false", func(t *testing.T) {
		if IsFilePath(t.TempDir()) {
			t.Error("expected false for directory")
		}
	})

	t.Run("empty string returns false", func(t *testing.T) {
		if IsFilePath("") {
			t.Error("expected false for empty string")
		}
	})
}

// blossomServer accepts uploads and checks the authorization event.
func blossomServer(t *testing.T, pubkey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		sum := sha256.Sum256(body)
		hashHex := hex.EncodeToString(sum[:])

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(r.Header.Get("Authorization"), "Nostr "))
		if err != nil {
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}
		var evt nostr.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}
		ok, _ := evt.CheckSignature()
		if !ok || evt.Kind != KindAuth || evt.PubKey != pubkey || !hasTag(evt, "x", hashHex) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"url":%q,"sha256":%q,"size":%d}`, "http://"+r.Host+"/"+hashHex+".txt", hashHex, len(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hasTag(evt nostr.Event, key, value string) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == key && tag[1] == value {
			return true
		}
	}
	return false
}

func TestUpload(t *testing.T) {
	key := keys.Generate()
	pk, err := key.PubKey()
	require.NoError(t, err)
	good := blossomServer(t, pk)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	t.Cleanup(bad.Close)

	data := []byte("hello blossom")
	sum := sha256.Sum256(data)

	u := New([]string{bad.URL, good.URL + "/"}, nil)
	file, err := u.Upload(context.Background(), keys.NewLocalSigner(key), "note.txt", data)
	require.NoError(t, err)

	assert.Equal(t, good.URL+"/"+hex.EncodeToString(sum[:])+".txt", file.URL)
	assert.Equal(t, "note.txt", file.Name)
	assert.Equal(t, int64(len(data)), file.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), file.SHA256)
	assert.True(t, strings.HasPrefix(file.MimeType, "text/plain"))
}

func TestUploadAllServersFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	u := New([]string{bad.URL}, nil)
	_, err := u.Upload(context.Background(), keys.NewLocalSigner(keys.Generate()), "x", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")

	_, err = New(nil, nil).Upload(context.Background(), keys.NewLocalSigner(keys.Generate()), "x", []byte("x"))
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestUploadFallsBackToHashURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "stored")
	}))
	t.Cleanup(srv.Close)

	f := filepath.Join(t.TempDir(), "pic.bin")
	require.NoError(t, os.WriteFile(f, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0o600))

	file, err := New([]string{srv.URL}, nil).UploadFile(context.Background(), keys.NewLocalSigner(keys.Generate()), f)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/"+file.SHA256, file.URL)
	assert.Equal(t, "pic.bin", file.Name)
	assert.Equal(t, "image/png", file.MimeType)
}

func TestAuthEventRequiresKey(t *testing.T) {
	key := keys.Generate()
	signer := keys.NewLocalSigner(key)
	key.Zero()
	_, err := AuthEvent(context.Background(), signer, "00")
	assert.Error(t, err)
}
