package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

// DailyWriter appends to logs/log-DDMMYYYY.log, switching files when the
// calendar day changes and keeping one ".1" backup when a day's file grows
// past maxSize.
type DailyWriter struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	path    string
	size    int64
	maxSize int64
	now     func() time.Time

	// failures of the writer itself go here, never through log
	errOut io.Writer
	rename func(oldpath, newpath string) error
}

// Setup opens today's log file under dir and points the standard logger at
// both stdout and the file.
func Setup(dir string) (*DailyWriter, error) {
	w, err := NewDailyWriter(dir, time.Now)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}

func NewDailyWriter(dir string, now func() time.Time) (*DailyWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	w := &DailyWriter{
		dir:     dir,
		maxSize: maxLogSize,
		now:     now,
		errOut:  os.Stderr,
		rename:  os.Rename,
	}
	if err := w.open(w.pathFor(now())); err != nil {
		return nil, err
	}
	return w, nil
}

// FileName is the log file name used for day t.
func FileName(t time.Time) string {
	return "log-" + t.Format("02012006") + ".log"
}

func (w *DailyWriter) pathFor(t time.Time) string {
	return filepath.Join(w.dir, FileName(t))
}

func (w *DailyWriter) open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	w.file = f
	w.path = path
	w.size = size
	return nil
}

func (w *DailyWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if path := w.pathFor(w.now()); path != w.path || w.file == nil {
		if w.file != nil {
			w.file.Close()
			w.file = nil
		}
		if err := w.open(path); err != nil {
			return 0, err
		}
	}

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

// rotate keeps one ".1" backup. If the backup cannot be made the current
// file is reopened for append; if no file can be opened the next Write
// tries again.
func (w *DailyWriter) rotate() {
	w.file.Close()
	w.file = nil

	if err := w.rename(w.path, w.path+".1"); err != nil {
		w.report("rotate %s: %v", w.path, err)
		if err := w.open(w.path); err != nil {
			w.report("reopen %s: %v", w.path, err)
			return
		}
		w.size = 0
		return
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		w.report("reopen %s: %v", w.path, err)
		return
	}

	w.file = f
	w.size = 0
}

func (w *DailyWriter) report(format string, args ...any) {
	fmt.Fprintf(w.errOut, "logging: "+format+"\n", args...)
}

// Path returns the file currently written to.
func (w *DailyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
