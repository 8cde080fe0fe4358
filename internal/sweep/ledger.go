package sweep

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"icehunt/internal/errors"
)

// Ledger is the persisted record of already-processed unit paths, one
// relative path per line, append-only. A path present in the ledger is
// never reprocessed in the same or a later run.
type Ledger struct {
	path      string
	file      *os.File
	w         *bufio.Writer
	seen      map[string]struct{}
	pending   int
	batchSize int
}

// OpenLedger loads the existing ledger (blank lines ignored, duplicates
// collapse in the set) and opens it for appending. Appends are buffered
// and pushed to stable storage every batchSize entries, bounding both I/O
// overhead and the progress lost if the process dies between flushes.
func OpenLedger(path string, batchSize int) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	seen := make(map[string]struct{})
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				seen[line] = struct{}{}
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger for append: %w", err)
	}

	return &Ledger{
		path:      path,
		file:      file,
		w:         bufio.NewWriter(file),
		seen:      seen,
		batchSize: batchSize,
	}, nil
}

// Contains reports whether the relative path is already ledgered.
// Amortized O(1).
func (l *Ledger) Contains(rel string) bool {
	_, ok := l.seen[rel]
	return ok
}

// Len returns the number of distinct ledgered paths.
func (l *Ledger) Len() int {
	return len(l.seen)
}

// Append records a unit as processed. Each append is a single line write;
// a failure to persist is fatal to the sweep, since resumability
// correctness depends on the ledger.
func (l *Ledger) Append(rel string) error {
	if _, err := l.w.WriteString(rel + "\n"); err != nil {
		return errors.New(errors.LedgerWriteFailed, "appending "+rel, err)
	}
	l.seen[rel] = struct{}{}
	l.pending++

	if l.pending >= l.batchSize {
		return l.Flush()
	}
	return nil
}

// Flush pushes buffered appends to stable storage.
func (l *Ledger) Flush() error {
	if err := l.w.Flush(); err != nil {
		return errors.New(errors.LedgerWriteFailed, "flushing ledger", err)
	}
	if err := l.file.Sync(); err != nil {
		return errors.New(errors.LedgerWriteFailed, "syncing ledger", err)
	}
	l.pending = 0
	return nil
}

// Close flushes the last partial batch and closes the file.
func (l *Ledger) Close() error {
	flushErr := l.Flush()
	closeErr := l.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
