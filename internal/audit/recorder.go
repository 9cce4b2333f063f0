// Package audit keeps the append-only JSONL log of everything the gateway
// did: inbound decisions, limit changes, cart and checkout outcomes.
package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog"
)

// FileName is the audit log's name inside the logs directory.
const FileName = "server.log"

// maxLineSize bounds a single audit line when reading the log back.
const maxLineSize = 1 << 20

// Recorder writes one JSON line per audit event. Write failures are dropped:
// auditing never fails the request it describes.
type Recorder struct {
	logger zerolog.Logger
	path   string
	closer io.Closer
}

// NewRecorder opens (or creates) <dir>/server.log for appending.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	r := New(f)
	r.path = path
	r.closer = f
	return r, nil
}

// New returns a Recorder writing to w. It cannot be tailed.
func New(w io.Writer) *Recorder {
	return &Recorder{logger: zerolog.New(zerolog.SyncWriter(discardErrors{w}))}
}

// Record appends ev to the log.
func (r *Recorder) Record(ctx context.Context, ev models.AuditEvent) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e := r.logger.Info()
	if !ev.OK {
		e = r.logger.Warn()
	}
	e.Str("ts", ts.UTC().Format(time.RFC3339Nano)).
		Str("type", ev.Type).
		Bool("ok", ev.OK).
		Fields(ev.Payload).
		Send()
}

// Tail returns the last n lines of the log, oldest first.
func (r *Recorder) Tail(n int) ([]string, error) {
	if r.path == "" {
		return nil, errors.New("audit log is not file backed")
	}
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}

// Close closes the underlying file, if any.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

type discardErrors struct {
	w io.Writer
}

func (d discardErrors) Write(p []byte) (int, error) {
	_, _ = d.w.Write(p)
	return len(p), nil
}
