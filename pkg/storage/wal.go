package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/spotmargin/pkg/chain"
)

// maxJournalLine bounds one journalled transaction when reading back.
const maxJournalLine = 1 << 20

// FileWAL is the API's transaction journal: every transaction the mempool
// admits is appended as one line, JSON compacted so pretty-printed bodies
// still take a single line. Append never fails the request; the first write
// error is kept and reported by Err and Close.
type FileWAL struct {
	mu      sync.Mutex
	f       *os.File
	entries uint64
	err     error
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if _, err := w.f.Write(append(compactLine(line), '\n')); err != nil {
		w.err = fmt.Errorf("journal entry %d: %w", w.entries+1, err)
		return
	}
	w.entries++
}

// Entries is the number of lines written since open.
func (w *FileWAL) Entries() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

// Err returns the first write error, if any.
func (w *FileWAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil && w.err == nil {
		w.err = err
	}
	if err := w.f.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

func compactLine(line string) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(line)); err == nil {
		return buf.Bytes()
	}
	// not JSON: keep it on one line anyway
	return bytes.ReplaceAll([]byte(line), []byte("\n"), []byte(" "))
}

// ReadJournal returns the journalled transactions in append order.
func ReadJournal(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	return out, nil
}

var _ chain.WAL = (*FileWAL)(nil)
