package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// Outbox is the durable local buffer of history records that could not be
// persisted.  The whole buffer is one JSON file rewritten atomically, so a
// crash mid-write leaves either the old or the new content.  Entries are
// keyed by ClientRef; adding the same reference twice keeps one entry.
type Outbox struct {
	path string
	mu   sync.Mutex
}

// NewOutbox returns an Outbox stored at path.  The file and its directory
// are created on first write.
func NewOutbox(path string) *Outbox {
	return &Outbox{path: path}
}

// Path returns the backing file.
func (o *Outbox) Path() string { return o.path }

func (o *Outbox) load() ([]model.AttendanceRecord, error) {
	b, err := os.ReadFile(o.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.AttendanceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []model.AttendanceRecord{}, nil
	}
	var entries []model.AttendanceRecord
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode outbox %s: %w", o.path, err)
	}
	return entries, nil
}

func (o *Outbox) save(entries []model.AttendanceRecord) error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("mkdir outbox dir: %w", err)
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(o.path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// Add buffers rec.  rec.ClientRef must be set.
func (o *Outbox) Add(rec model.AttendanceRecord) error {
	if rec.ClientRef == "" {
		return errors.New("outbox entry without client reference")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	entries, err := o.load()
	if err != nil {
		return err
	}
	rec.ID = 0
	rec.Pending = false
	for i := range entries {
		if entries[i].ClientRef == rec.ClientRef {
			entries[i] = rec
			return o.save(entries)
		}
	}
	return o.save(append(entries, rec))
}

// List returns every buffered entry in insertion order.
func (o *Outbox) List() ([]model.AttendanceRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load()
}

// ListRange returns the buffered entries whose service date lies in
// [from, to].  Dates compare as YYYY-MM-DD strings.
func (o *Outbox) ListRange(from, to string) ([]model.AttendanceRecord, error) {
	all, err := o.List()
	if err != nil {
		return nil, err
	}
	out := make([]model.AttendanceRecord, 0)
	for _, e := range all {
		if e.ServiceDate >= from && e.ServiceDate <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

// Remove drops the entries with the given client references.  Unknown
// references are ignored.
func (o *Outbox) Remove(refs ...string) error {
	if len(refs) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(refs))
	for _, r := range refs {
		drop[r] = true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	entries, err := o.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if !drop[e.ClientRef] {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return o.save(kept)
}
