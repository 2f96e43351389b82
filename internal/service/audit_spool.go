package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/keepup/cowork/internal/domain/audit"
)

// AuditSpool is a JSON-lines dead-letter file for audit entries that could
// not be persisted. Appends and replays are serialized in-process by a mutex
// and across processes by a file lock.
type AuditSpool struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewAuditSpool returns a spool backed by path. The directory is created
// if missing.
func NewAuditSpool(path string) (*AuditSpool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("audit spool dir: %w", err)
	}
	return &AuditSpool{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the spool file location.
func (s *AuditSpool) Path() string { return s.path }

// Append adds e as one line.
func (s *AuditSpool) Append(e *audit.Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode spool entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock spool: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write spool: %w", err)
	}
	return f.Close()
}

// Replay feeds every spooled entry to fn in file order. Entries for which
// fn fails stay in the spool; the rest are removed. Lines that cannot be
// decoded are kept verbatim so nothing is silently discarded.
func (s *AuditSpool) Replay(ctx context.Context, fn func(context.Context, *audit.Entry) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock spool: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read spool: %w", err)
	}

	var keep bytes.Buffer
	replayed := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.WarnContext(ctx, "audit spool: undecodable line kept", "error", err)
			keep.Write(line)
			keep.WriteByte('\n')
			continue
		}
		if ctx.Err() != nil {
			keep.Write(line)
			keep.WriteByte('\n')
			continue
		}
		if err := fn(ctx, &e); err != nil {
			keep.Write(line)
			keep.WriteByte('\n')
			continue
		}
		replayed++
	}
	if err := sc.Err(); err != nil {
		return replayed, fmt.Errorf("scan spool: %w", err)
	}

	if keep.Len() == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return replayed, fmt.Errorf("remove spool: %w", err)
		}
		return replayed, nil
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, keep.Bytes(), 0o600); err != nil {
		return replayed, fmt.Errorf("rewrite spool: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return replayed, fmt.Errorf("rewrite spool: %w", err)
	}
	return replayed, nil
}
