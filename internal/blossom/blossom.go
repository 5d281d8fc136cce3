// Package blossom uploads attachments to Blossom media servers and turns
// the result into an attachment payload.
package blossom

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/codec"
	hlog "github.com/pinpox/heychat/internal/log"
)

// KindAuth is the Blossom authorization event kind.
const KindAuth = 24242

var ErrNoServers = errors.New("blossom: no servers configured")

// Signer signs the upload authorization event.
type Signer interface {
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

type Uploader struct {
	Servers []string
	Client  *http.Client
	Log     *logging.Logger
}

func New(servers []string, log *logging.Logger) *Uploader {
	if log == nil {
		log = hlog.Discard("blossom")
	}
	return &Uploader{
		Servers: servers,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Log:     log,
	}
}

// AuthEvent builds and signs a kind 24242 upload authorization for the blob
// with the given hash, valid for five minutes.
func AuthEvent(ctx context.Context, signer Signer, hashHex string) (nostr.Event, error) {
	expiration := time.Now().Add(5 * time.Minute).Unix()
	evt := nostr.Event{
		Kind:      KindAuth,
		CreatedAt: nostr.Now(),
		Content:   "Upload " + hashHex,
		Tags: nostr.Tags{
			{"t", "upload"},
			{"x", hashHex},
			{"expiration", fmt.Sprintf("%d", expiration)},
		},
	}
	if err := signer.SignEvent(ctx, &evt); err != nil {
		return evt, err
	}
	return evt, nil
}

// UploadFile reads a file from disk, expanding a leading ~/, and uploads it.
func (u *Uploader) UploadFile(ctx context.Context, signer Signer, path string) (codec.File, error) {
	path, err := expandHome(path)
	if err != nil {
		return codec.File{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return codec.File{}, fmt.Errorf("blossom: read file: %w", err)
	}
	return u.Upload(ctx, signer, filepath.Base(path), data)
}

// Upload sends data to every server concurrently and returns the file as
// stored by the first server that accepted it. It fails only if all
// servers fail.
func (u *Uploader) Upload(ctx context.Context, signer Signer, name string, data []byte) (codec.File, error) {
	if len(u.Servers) == 0 {
		return codec.File{}, ErrNoServers
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])
	mimeType := http.DetectContentType(data)

	evt, err := AuthEvent(ctx, signer, hashHex)
	if err != nil {
		return codec.File{}, fmt.Errorf("blossom: sign auth: %w", err)
	}
	evtJSON, err := json.Marshal(evt)
	if err != nil {
		return codec.File{}, fmt.Errorf("blossom: marshal auth: %w", err)
	}
	authHeader := "Nostr " + base64.StdEncoding.EncodeToString(evtJSON)

	type result struct {
		server string
		url    string
		err    error
	}
	results := make(chan result, len(u.Servers))
	var wg sync.WaitGroup
	for _, server := range u.Servers {
		wg.Add(1)
		go func(server string) {
			defer wg.Done()
			url, err := u.put(ctx, server, data, mimeType, authHeader, hashHex)
			results <- result{server: server, url: url, err: err}
		}(server)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstURL string
	var errs []string
	for r := range results {
		if r.err != nil {
			u.Log.Warningf("upload to %s failed: %v", r.server, r.err)
			errs = append(errs, fmt.Sprintf("%s: %v", r.server, r.err))
			continue
		}
		u.Log.Infof("uploaded to %s -> %s", r.server, r.url)
		if firstURL == "" {
			firstURL = r.url
		}
	}
	if firstURL == "" {
		return codec.File{}, fmt.Errorf("blossom: all servers failed: %s", strings.Join(errs, "; "))
	}

	return codec.File{
		URL:      firstURL,
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		SHA256:   hashHex,
	}, nil
}

func (u *Uploader) put(ctx context.Context, server string, data []byte, mimeType, auth, hashHex string) (string, error) {
	base := strings.TrimRight(server, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", mimeType)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var descriptor struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &descriptor); err != nil || descriptor.URL == "" {
		return base + "/" + hashHex, nil
	}
	return descriptor.URL, nil
}

// IsFilePath reports whether s looks like an absolute or ~/ path to an
// existing regular file.
func IsFilePath(s string) bool {
	if !strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "~/") {
		return false
	}
	if strings.ContainsRune(s, '\n') {
		return false
	}
	path, err := expandHome(s)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("blossom: expand home: %w", err)
	}
	return home + path[1:], nil
}
