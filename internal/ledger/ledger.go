package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	eventsFileName = "events.jsonl"
	metaFileName   = "meta.json"
	lockFileName   = "ledger.lock"

	// Lines longer than the default bufio limit show up in practice when a
	// single agent event carries a large payload.
	maxLineBytes = 8 * 1024 * 1024
)

// ErrLocked indicates another process holds the ledger's writer lock.
var ErrLocked = errors.New("ledger: directory is locked by another process")

// ErrPreassignedID indicates an event arrived with a non-sentinel id.
var ErrPreassignedID = errors.New("ledger: event id must be unassigned on input")

// Ledger is an append-only event store. All methods are safe for concurrent
// use; a single mutex serializes append, flush, meta, and counter operations
// so no two interleave their effects.
type Ledger struct {
	mu        sync.Mutex
	dir       string
	batchSize int

	lock   *flock.Flock
	events *os.File
	meta   map[string]string

	batch     []Event
	persisted uint64
	nextID    uint64
}

// Open opens or creates a ledger at dir. Reopening an existing ledger
// resumes id assignment from the last persisted event. The directory is
// guarded by a file lock: a second writer fails with ErrLocked rather than
// sharing the ledger.
func Open(dir string, batchSize int) (*Ledger, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("ledger: batch size must be at least 1, got %d", batchSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ledger: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	persisted, maxID, err := scanEvents(filepath.Join(dir, eventsFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	events, err := os.OpenFile(filepath.Join(dir, eventsFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("ledger: open events file: %w", err)
	}

	meta, err := loadMeta(filepath.Join(dir, metaFileName))
	if err != nil {
		_ = events.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return &Ledger{
		dir:       dir,
		batchSize: batchSize,
		lock:      lock,
		events:    events,
		meta:      meta,
		persisted: persisted,
		nextID:    maxID + 1,
	}, nil
}

// Append assigns the next event id, buffers the event, and returns the
// assigned id. When the buffer reaches the batch size it is persisted
// synchronously before Append returns, bounding unflushed data to one
// batch. On a persistence failure the event stays buffered (with its id
// already assigned and counted) and the error is surfaced; the next flush
// retries it.
func (l *Ledger) Append(ev Event) (uint64, error) {
	if ev.EventID != UnassignedID {
		return 0, ErrPreassignedID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev.EventID = l.nextID
	l.nextID++
	l.batch = append(l.batch, ev)

	if len(l.batch) >= l.batchSize {
		if err := l.flushLocked(); err != nil {
			return ev.EventID, err
		}
	}
	return ev.EventID, nil
}

// Flush forces any partially-filled batch to durable storage. Idempotent
// when nothing is pending.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Ledger) flushLocked() error {
	if len(l.batch) == 0 {
		return nil
	}

	var buf []byte
	for _, ev := range l.batch {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("ledger: encode event %d: %w", ev.EventID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if _, err := l.events.Write(buf); err != nil {
		return fmt.Errorf("ledger: write events: %w", err)
	}
	if err := l.events.Sync(); err != nil {
		return fmt.Errorf("ledger: sync events: %w", err)
	}

	l.persisted += uint64(len(l.batch))
	l.batch = l.batch[:0]
	return nil
}

// SetMeta persists a metadata entry durably before returning. Repeated
// writes to the same key are last-write-wins.
func (l *Ledger) SetMeta(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.meta[key] = value
	return writeMeta(filepath.Join(l.dir, metaFileName), l.meta)
}

// GetMeta returns a metadata entry.
func (l *Ledger) GetMeta(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.meta[key]
	return v, ok
}

// TotalEvents returns the count of all appended events, including unflushed
// ones held in the current batch. O(1).
func (l *Ledger) TotalEvents() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persisted + uint64(len(l.batch))
}

// StorageSizeBytes returns the size of all persisted storage. It reflects
// only flushed data.
func (l *Ledger) StorageSizeBytes() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storageSize(l.dir)
}

// Close flushes pending events and releases the ledger.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	flushErr := l.flushLocked()
	if err := l.events.Close(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("ledger: close events file: %w", err)
	}
	if err := l.lock.Unlock(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("ledger: release lock: %w", err)
	}
	return flushErr
}

// scanEvents counts persisted events and finds the maximum assigned id.
// Malformed lines (for example a torn write from a crash) are skipped.
func scanEvents(path string) (count uint64, maxID uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("ledger: open events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		count++
		if ev.EventID > maxID {
			maxID = ev.EventID
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("ledger: scan events file: %w", err)
	}
	return count, maxID, nil
}

func loadMeta(path string) (map[string]string, error) {
	meta := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return nil, fmt.Errorf("ledger: read meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ledger: parse meta: %w", err)
	}
	return meta, nil
}

// writeMeta writes the metadata table atomically: a temp file is synced and
// renamed over the old one so a crash never leaves a torn table.
func writeMeta(path string, meta map[string]string) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode meta: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: write meta: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("ledger: write meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("ledger: sync meta: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ledger: close meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ledger: replace meta: %w", err)
	}
	return nil
}

func storageSize(dir string) (uint64, error) {
	var total uint64
	for _, name := range []string{eventsFileName, metaFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("ledger: stat %s: %w", name, err)
		}
		total += uint64(info.Size())
	}
	return total, nil
}
