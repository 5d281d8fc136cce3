package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/blossom"
	"github.com/pinpox/heychat/internal/client"
	"github.com/pinpox/heychat/internal/config"
	"github.com/pinpox/heychat/internal/keys"
	hlog "github.com/pinpox/heychat/internal/log"
	"github.com/pinpox/heychat/internal/metrics"
	"github.com/pinpox/heychat/internal/notify"
	"github.com/pinpox/heychat/internal/transcript"
)

const passwordEnv = "HEYCHAT_PASSWORD"

// readPassword takes the key password from HEYCHAT_PASSWORD or prompts for
// it without echo.
func readPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no terminal to prompt for a password, set %s", passwordEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// pubPath is where keygen stores the profile id next to the sealed key.
func pubPath(keyPath string) string {
	return keyPath + ".pub"
}

// resolveProfile returns the profile id from the flag or config, falling
// back to the one keygen stored next to the key.
func resolveProfile() (string, error) {
	if cfg.ProfileID != "" {
		return cfg.ProfileID, nil
	}
	data, err := os.ReadFile(pubPath(cfg.KeyPath(configPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("no profile configured, run `heychat keygen` or set profile_id")
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// openLogs opens the log backend. The interactive UI owns the terminal, so
// it logs to a file in the config directory unless log_file is set.
func openLogs(interactive bool) (*hlog.Backend, error) {
	file := cfg.LogFile
	if file == "" && interactive {
		file = filepath.Join(config.Dir(configPath), "heychat.log")
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return nil, err
		}
	}
	return hlog.New(file, cfg.LogLevel, false)
}

// bridgeNostrLogs routes go-nostr's standard library loggers into logs. The
// returned func puts the previous loggers back.
func bridgeNostrLogs(logs *hlog.Backend) (restore func()) {
	info, debug := nostr.InfoLogger, nostr.DebugLogger
	nostr.InfoLogger = logs.GetGoLogger("nostr", "INFO")
	nostr.DebugLogger = logs.GetGoLogger("nostr", "DEBUG")
	return func() {
		nostr.InfoLogger, nostr.DebugLogger = info, debug
	}
}

// rotateOnHangup reopens the log file on every SIGHUP until stop is called.
func rotateOnHangup(logs *hlog.Backend, log *logging.Logger) (stop func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-hup:
				if err := logs.Rotate(); err != nil {
					log.Errorf("rotating log: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
		<-exited
	}
}

// serveMetrics exposes the Prometheus endpoint when metrics_addr is set.
func serveMetrics(m *metrics.Metrics, log *logging.Logger) (stop func(), err error) {
	if cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Noticef("metrics on http://%s/metrics", cfg.MetricsAddr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// app is a logged-in client together with the resources it owns.
type app struct {
	client *client.Client
	logs   *hlog.Backend
	log    *logging.Logger
	stop   []func()
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	for i := len(a.stop) - 1; i >= 0; i-- {
		a.stop[i]()
	}
	a.logs.Close()
}

// login reads the sealed key, asks for its password and logs a client in.
func login(interactive bool) (*app, error) {
	env := cfg.Env()
	if !env.Valid() {
		return nil, fmt.Errorf("unknown environment %q", env)
	}
	profile, err := resolveProfile()
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(cfg.KeyPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	logs, err := openLogs(interactive)
	if err != nil {
		return nil, err
	}
	a := &app{logs: logs, log: logs.GetLogger("heychat")}
	a.stop = append(a.stop, bridgeNostrLogs(logs), rotateOnHangup(logs, a.log))

	m := metrics.New()
	stopMetrics, err := serveMetrics(m, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.stop = append(a.stop, stopMetrics)

	opts := client.Options{
		Relays:      cfg.RelayMap(),
		Metrics:     m,
		Logs:        logs,
		MaxMessages: cfg.MaxMessages,
		Since:       config.LoadLastSeen(configPath),
	}
	if len(cfg.BlossomServers) > 0 {
		opts.Uploader = blossom.New(cfg.BlossomServers, logs.GetLogger("blossom"))
	}
	if interactive {
		if cfg.TranscriptEnabled() {
			opts.Transcript = transcript.New(cfg.TranscriptDir, logs.GetLogger("transcript"))
		}
		if cfg.NotificationsEnabled() {
			opts.Notifier = &notify.Desktop{Log: logs.GetLogger("notify")}
		}
	}
	a.client = client.New(opts)

	pw, err := readPassword("Password for " + shortProfile(profile) + ": ")
	if err != nil {
		a.Close()
		return nil, err
	}
	material := keys.Material{EncryptedBlob: strings.TrimSpace(string(blob)), Password: pw}
	if err := a.client.Login(profile, env, material); err != nil {
		a.Close()
		return nil, err
	}
	a.log.Noticef("logged in as %s on %s", shortProfile(profile), env)
	return a, nil
}

func shortProfile(profile string) string {
	if acct, ok := account.Resolve(profile); ok {
		return acct.Short()
	}
	return profile
}

func parsePeer(s string) (account.Account, error) {
	acct, ok := account.Resolve(strings.TrimPrefix(s, "nostr:"))
	if !ok {
		return "", fmt.Errorf("invalid public key %q", s)
	}
	return acct, nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
