// Package csvlog appends ';'-delimited rows to log files, writing a header
// line the first time a file is created.
package csvlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const Separator = ";"

// Appender is the sink used by the sampling loops.
type Appender interface {
	Append(path string, header, row []string) error
}

// Writer appends rows to files on the local filesystem.
type Writer struct {
	mu      sync.Mutex
	dirPerm os.FileMode
	perm    os.FileMode
	write   func(*os.File, string) (int, error)
}

func NewWriter() *Writer {
	return &Writer{dirPerm: 0o755, perm: 0o644, write: (*os.File).WriteString}
}

// Append writes header (only when path does not exist yet) followed by row.
func (w *Writer) Append(path string, header, row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), w.dirPerm); err != nil {
		return fmt.Errorf("create log dir for %s: %w", path, err)
	}

	f, created, err := w.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var sb strings.Builder
	if created {
		sb.WriteString(Join(header))
		sb.WriteByte('\n')
	}
	sb.WriteString(Join(row))
	sb.WriteByte('\n')

	if _, err := w.write(f, sb.String()); err != nil {
		// A file created here must not survive without its header.
		if created {
			f.Close()
			if rmErr := os.Remove(path); rmErr != nil {
				return fmt.Errorf("append to %s: %w (remove: %v)", path, err, rmErr)
			}
		}
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// open creates path exclusively when missing so that exactly one writer
// ever emits the header.
func (w *Writer) open(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, w.perm)
	if err == nil {
		return f, true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, false, fmt.Errorf("create %s: %w", path, err)
	}
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, w.perm)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	return f, false, nil
}

// Join renders fields as one line. Separators and line breaks inside a
// field are replaced so the row keeps its arity.
func Join(fields []string) string {
	clean := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, Separator, ",")
		f = strings.ReplaceAll(f, "\r", "")
		clean[i] = strings.ReplaceAll(f, "\n", " ")
	}
	return strings.Join(clean, Separator)
}
