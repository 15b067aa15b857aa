package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dialajoke/pkg/logx"
)

var errFileClosed = errors.New("file store closed")

// fileStore keeps everything in plain files:
//   - <prefix>.calls.jsonl           call history, append-only
//   - <prefix>.dedup.snapshot.json   dedup map snapshot
//   - <prefix>.dedup.journal.jsonl   dedup writes since the last snapshot
//
// The dedup journal is compacted into the snapshot every 1000 writes.
// PruneCalls rewrites the history file.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	callsPath string
	callsFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	s := &fileStore{
		log:               log,
		callsPath:         prefix + ".calls.jsonl",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]int64{},
	}
	cf, err := os.OpenFile(s.callsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.callsFile = cf

	journalPath := prefix + ".dedup.journal.jsonl"
	if err := loadDedupSnapshot(s.dedupSnapshotPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable", logx.String("path", s.dedupSnapshotPath), logx.Err(err))
	}
	if err := replayDedupJournal(journalPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}
	pruneExpiredDedup(s.dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = cf.Close()
		return nil, err
	}
	s.dedupJournalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.callsFile != nil {
		errs = append(errs, s.callsFile.Close())
		s.callsFile = nil
	}
	if s.dedupJournalFile != nil {
		errs = append(errs, s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendCall(ctx context.Context, r CallRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callsFile == nil {
		return errFileClosed
	}
	return json.NewEncoder(s.callsFile).Encode(r)
}

func (s *fileStore) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callsFile == nil {
		return nil, errFileClosed
	}

	// Keep a sliding window of the last limit records.
	var window []CallRecord
	err := s.scanCallsLocked(func(r CallRecord) {
		window = append(window, r)
		if len(window) > limit {
			window = window[1:]
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]CallRecord, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		out = append(out, window[i])
	}
	return out, nil
}

func (s *fileStore) PruneCalls(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callsFile == nil {
		return 0, errFileClosed
	}

	tmp := s.callsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	pruned := 0
	var encErr error
	err = s.scanCallsLocked(func(r CallRecord) {
		if r.At.Before(before) {
			pruned++
			return
		}
		if encErr == nil {
			encErr = enc.Encode(r)
		}
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = encErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if pruned == 0 {
		return 0, os.Remove(tmp)
	}

	if err := s.callsFile.Close(); err != nil {
		return 0, err
	}
	s.callsFile = nil
	if err := os.Rename(tmp, s.callsPath); err != nil {
		return 0, err
	}
	cf, err := os.OpenFile(s.callsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.callsFile = cf
	return pruned, nil
}

func (s *fileStore) scanCallsLocked(fn func(CallRecord)) error {
	f, err := os.Open(s.callsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return scanJSONL(f, func(line []byte) {
		var r CallRecord
		if json.Unmarshal(line, &r) == nil {
			fn(r)
		}
	})
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errFileClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return scanJSONL(f, func(line []byte) {
		var r dedupRecord
		if json.Unmarshal(line, &r) == nil && r.Key != "" {
			out[r.Key] = r.Until
		}
	})
}

// scanJSONL calls fn for every non-empty line. Torn or malformed lines are
// left to fn to skip.
func scanJSONL(r io.Reader, fn func(line []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			fn(sc.Bytes())
		}
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cutoff := now.UnixMilli()
	for k, v := range m {
		if v < cutoff {
			delete(m, k)
		}
	}
}
