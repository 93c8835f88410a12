// Package history is the shell's append-only command history, stored as
// one JSON record per line.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is a single recorded command line.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"ts"`
	Line string    `json:"line"`
}

// Writer appends entries to a history file. It resumes the sequence from
// the last existing record on open.
type Writer struct {
	mu   sync.Mutex
	path string
	seq  uint64
	max  int
}

// Open creates or resumes a history file at the given path. max caps the
// number of retained entries; older records are dropped on open.
func Open(path string, max int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	w := &Writer{path: path, max: max}

	lines, err := w.read()
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		var last Entry
		if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err == nil {
			w.seq = last.Seq
		}
	}
	if max > 0 && len(lines) > max {
		if err := w.rewrite(lines[len(lines)-max:]); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Append records one command line.
func (w *Writer) Append(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	entry := Entry{Seq: w.seq, Time: time.Now().UTC(), Line: line}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write history entry: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent lines, oldest first.
func (w *Writer) Tail(n int) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := w.read()
	if err != nil {
		return nil, err
	}
	if len(raw) > n {
		raw = raw[len(raw)-n:]
	}
	lines := make([]string, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		lines = append(lines, e.Line)
	}
	return lines, nil
}

// Path returns the history file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) read() ([]string, error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(data[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines, nil
}

func (w *Writer) rewrite(lines []string) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
