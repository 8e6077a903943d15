// Package enginelog implements the engine's structured logging facility:
// a per-engine logrus logger with level gating (debug/listing
// messages suppressed unless explicitly enabled), size-based rotation
// guarded by a cross-process advisory file lock so that several engine
// instances sharing one log path don't interleave writes or race during
// rotation, and a flush-on-error mode that forces buffered debug output to
// disk the moment a message at Warn or above is logged. Built on
// github.com/sirupsen/logrus for the logger itself and golang.org/x/sys/unix
// for the advisory rotation lock (flock), so concurrent processes rotate a
// shared log file at most once.
package enginelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Category distinguishes the message classes the queue gates
// independently of logrus' own severity levels.
type Category int

const (
	CategoryStatus Category = iota
	CategoryError
	CategoryCommand
	CategoryReply
	CategoryDebug
	CategoryListing
)

func (c Category) String() string {
	switch c {
	case CategoryStatus:
		return "status"
	case CategoryError:
		return "error"
	case CategoryCommand:
		return "command"
	case CategoryReply:
		return "reply"
	case CategoryDebug:
		return "debug"
	case CategoryListing:
		return "listing"
	default:
		return "unknown"
	}
}

// Options configures a Logger. Zero value logs everything except Debug and
// Listing to stderr, unbuffered, with no rotation.
type Options struct {
	Path          string // empty means stderr, no rotation
	MaxSizeBytes  int64  // 0 disables rotation
	MaxBackups    int
	EnableDebug   bool
	EnableListing bool
}

// Logger is the per-engine logging facade. One Logger instance is shared by
// every control socket and background worker belonging to one Engine.
type Logger struct {
	opts Options
	base *logrus.Logger

	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	size     int64
	rotating bool
}

// New creates a Logger per opts. If opts.Path is set, the file is opened
// (creating it if necessary) and its current size recorded so rotation
// decisions survive process restarts.
func New(opts Options) (*Logger, error) {
	l := &Logger{opts: opts, base: logrus.New()}
	l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if opts.Path == "" {
		l.base.SetOutput(os.Stderr)
		return l, nil
	}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openLocked() error {
	f, err := os.OpenFile(l.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("enginelog: opening %s: %w", l.opts.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	l.buf = bufio.NewWriter(f)
	l.base.SetOutput(l.buf)
	return nil
}

// enabled reports whether category passes the current gate.
func (l *Logger) enabled(cat Category) bool {
	switch cat {
	case CategoryDebug:
		return l.opts.EnableDebug
	case CategoryListing:
		return l.opts.EnableListing
	default:
		return true
	}
}

// Log writes one message of the given category. It is suppressed entirely
// if the category is gated off, saving the cost of formatting.
func (l *Logger) Log(cat Category, format string, args ...interface{}) {
	if !l.enabled(cat) {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.base.WithField("category", cat.String())
	level := logrus.InfoLevel
	if cat == CategoryError {
		level = logrus.WarnLevel
	}
	entry.Log(level, msg)

	if l.file == nil {
		return
	}
	l.size += int64(len(msg)) + 64 // rough accounting, incl. formatting overhead
	if level <= logrus.WarnLevel {
		l.flushLocked()
	}
	if l.opts.MaxSizeBytes > 0 && l.size >= l.opts.MaxSizeBytes {
		l.rotateLocked()
	}
}

func (l *Logger) flushLocked() {
	if l.buf != nil {
		l.buf.Flush()
	}
}

// rotateLocked renames the current file aside under a cross-process
// advisory lock, so two engine processes sharing a log path serialise their
// rotations instead of both truncating the same inode. Must be called with
// l.mu held.
func (l *Logger) rotateLocked() {
	l.flushLocked()
	fd := int(l.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return // best effort; keep logging to the oversized file
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	info, err := l.file.Stat()
	if err != nil || info.Size() < l.opts.MaxSizeBytes {
		// Another process already rotated this file under us.
		return
	}

	l.file.Close()
	rotateBackups(l.opts.Path, l.opts.MaxBackups)
	if err := l.openLocked(); err != nil {
		l.base.SetOutput(os.Stderr)
		l.file = nil
		l.buf = nil
	}
}

func rotateBackups(path string, maxBackups int) {
	if maxBackups <= 0 {
		os.Rename(path, path+".1")
		return
	}
	for i := maxBackups; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		dst := fmt.Sprintf("%s.%d", path, i+1)
		if i == maxBackups {
			os.Remove(dst)
		}
		os.Rename(src, dst)
	}
	os.Rename(path, path+".1")
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Writer exposes the logger's destination for components (e.g. the update
// manifest verifier) that need a plain io.Writer rather than categorized
// logging.
func (l *Logger) Writer() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf != nil {
		return l.buf
	}
	return os.Stderr
}
