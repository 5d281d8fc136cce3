// Package transcript keeps an append-only log of every conversation on
// disk, one file per peer, and reads it back into history.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chat"
	"github.com/pinpox/heychat/internal/codec"
	hlog "github.com/pinpox/heychat/internal/log"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Writer appends messages to per-peer transcript files. It implements
// chat.Observer, so attaching it to a Store records every new message.
type Writer struct {
	Dir string
	Log *logging.Logger
}

func New(dir string, log *logging.Logger) *Writer {
	if log == nil {
		log = hlog.Discard("transcript")
	}
	return &Writer{Dir: dir, Log: log}
}

// Path returns the transcript file of a conversation.
func Path(dir string, peer account.Account) string {
	name := peer.PubKey()
	if name == "" {
		name = strings.NewReplacer(
			"/", "_",
			"\\", "_",
			"\t", "_",
			":", "_",
			" ", "_",
		).Replace(string(peer))
	}
	return filepath.Join(dir, "dm_"+name+".log")
}

func (w *Writer) MessageAppended(peer account.Account, msg chat.Message) {
	if err := w.Append(peer, msg); err != nil {
		w.Log.Warningf("%v", err)
	}
}

// Append writes one message as a line of tab-separated fields: time, id,
// sender, recipient and the JSON envelope of the intent.
func (w *Writer) Append(peer account.Account, msg chat.Message) error {
	if w.Dir == "" {
		return nil
	}
	body, err := codec.Marshal(msg.Intent)
	if err != nil {
		return fmt.Errorf("transcript: encode %s: %w", msg.ID, err)
	}
	if err := os.MkdirAll(w.Dir, 0o700); err != nil {
		return fmt.Errorf("transcript: create dir: %w", err)
	}

	path := Path(w.Dir, peer)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	ts := time.UnixMilli(msg.Timestamp).UTC().Format(timeLayout)
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\n", ts, msg.ID, msg.From, msg.To, body)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("transcript: write %s: %w", path, err)
	}
	return nil
}

// Load reads the last max messages of peer's transcript. A missing file is
// an empty history; malformed lines are skipped.
func (w *Writer) Load(peer account.Account, max int) ([]chat.Message, error) {
	if w.Dir == "" || max <= 0 {
		return nil, nil
	}

	path := Path(w.Dir, peer)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	lines, err := readLastNLines(f, max)
	if err != nil {
		return nil, fmt.Errorf("transcript: read %s: %w", path, err)
	}

	msgs := make([]chat.Message, 0, len(lines))
	for _, line := range lines {
		msg, err := parseLine(line)
		if err != nil {
			w.Log.Debugf("skipping malformed line in %s: %v", path, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// readLastNLines reads the last n lines from a file by seeking backward.
func readLastNLines(f *os.File, n int) ([]string, error) {
	const chunkSize = 8192

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size
	linesFound := 0

	for offset > 0 && linesFound <= n {
		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)

		for _, b := range chunk {
			if b == '\n' {
				linesFound++
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(buf)))
	scanner.Buffer(make([]byte, 0, 64*1024), len(buf)+1)
	var all []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			all = append(all, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func parseLine(line string) (chat.Message, error) {
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) < 5 {
		return chat.Message{}, fmt.Errorf("expected 5 tab-separated fields, got %d", len(parts))
	}

	ts, err := time.Parse(timeLayout, parts[0])
	if err != nil {
		return chat.Message{}, fmt.Errorf("invalid timestamp %q: %w", parts[0], err)
	}
	intent, err := codec.Unmarshal([]byte(parts[4]))
	if err != nil {
		return chat.Message{}, err
	}

	return chat.Message{
		ID:        parts[1],
		From:      account.Account(parts[2]),
		To:        account.Account(parts[3]),
		Timestamp: ts.UnixMilli(),
		Intent:    intent,
	}, nil
}
