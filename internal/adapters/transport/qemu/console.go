package qemu

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/kdbg/internal/ports"
)

// CursorFactory opens cursors over session console sinks.
type CursorFactory struct{}

var _ ports.ConsoleCursorFactory = CursorFactory{}

func (CursorFactory) OpenCursor(path string) ports.ConsoleCursor {
	return &Cursor{path: path}
}

// Cursor reads the emulator's console sink incrementally, remembering how
// far it has read so repeated calls return only new content.
type Cursor struct {
	path string

	mu     sync.Mutex
	offset int64
}

var _ ports.ConsoleCursor = (*Cursor)(nil)

// ReadNew returns console output that arrived since the previous ReadNew,
// up to max bytes. A missing sink yields an empty string: the emulator may
// not have produced output yet.
func (c *Cursor) ReadNew(max int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() <= c.offset {
		return "", nil
	}

	if _, err := file.Seek(c.offset, io.SeekStart); err != nil {
		return "", err
	}

	available := info.Size() - c.offset
	if max > 0 && int64(max) < available {
		available = int64(max)
	}

	buf := make([]byte, available)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}

	c.offset += int64(n)
	return string(buf[:n]), nil
}

// ReadAll returns the accumulated console output from the start of the
// session, capped at max bytes, without moving the incremental cursor.
func (c *Cursor) ReadAll(max int) (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if max > 0 && len(data) > max {
		data = data[:max]
	}
	return string(data), nil
}

// AwaitChange blocks until the sink grows past the cursor or the wait
// elapses, reporting whether new content is available. An fsnotify watcher
// wakes the wait; stat polling covers filesystems without events.
func (c *Cursor) AwaitChange(wait time.Duration) bool {
	deadline := time.Now().Add(wait)

	if c.pending() {
		return true
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err = watcher.Add(c.path); err == nil {
			for {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return c.pending()
				}
				select {
				case event := <-watcher.Events:
					if event.Has(fsnotify.Write) && c.pending() {
						return true
					}
				case <-watcher.Errors:
					return c.awaitByPolling(deadline)
				case <-time.After(remaining):
					return c.pending()
				}
			}
		}
	}

	return c.awaitByPolling(deadline)
}

func (c *Cursor) awaitByPolling(deadline time.Time) bool {
	for time.Now().Before(deadline) {
		if c.pending() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.pending()
}

func (c *Cursor) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		return false
	}
	return info.Size() > c.offset
}
