// Package wal journals tag enforcement steps to append-only JSONL files
// so a local run can be audited and replayed.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryObserved EntryType = "observed" // event received
	EntryDecided  EntryType = "decided"  // missing tags / bad environment computed
	EntryExecuted EntryType = "executed" // tags written or alert published
	EntryFailed   EntryType = "failed"
	EntrySkipped  EntryType = "skipped" // ignored or duplicate delivery
)

const filePrefix = "guardrails"

// Entry represents a single WAL entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	EventID   string          `json:"event_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// WAL provides write-ahead journaling of enforcement steps
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a WAL in the specified directory
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{dir: dir}
	if err := w.loadSequence(); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s-%s.wal", filePrefix, time.Now().UTC().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	return w, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, eventID string, data interface{}) error {
	return w.append(entryType, eventID, data, nil)
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, eventID string, data interface{}, errToLog error) error {
	return w.append(entryType, eventID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, eventID string, data interface{}, errToLog error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.sequence++
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Sequence:  w.sequence,
		Type:      entryType,
		EventID:   eventID,
		Data:      jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// loadSequence continues numbering from the highest sequence on disk
func (w *WAL) loadSequence() error {
	files, err := listFiles(w.dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		err := readFile(f, func(e *Entry) error {
			if e.Sequence > w.sequence {
				w.sequence = e.Sequence
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("load sequence from %s: %w", f, err)
		}
	}
	return nil
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the WAL, returning io.EOF at the end
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry written after since, in file order
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		err := readFile(f, func(e *Entry) error {
			if !e.Timestamp.After(since) {
				return nil
			}
			return handler(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ProcessedEvents returns the event ids with an executed or skipped entry
func ProcessedEvents(dir string) (map[string]bool, error) {
	done := make(map[string]bool)
	err := Replay(dir, time.Time{}, func(e *Entry) error {
		if e.EventID != "" && (e.Type == EntryExecuted || e.Type == EntrySkipped) {
			done[e.EventID] = true
		}
		return nil
	})
	return done, err
}

func listFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.wal"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func readFile(path string, fn func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
