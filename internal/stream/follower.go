package stream

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"studynerd/internal/logging"
	"studynerd/internal/research"
)

// Follower tails a live NDJSON event file, emitting each appended event on
// a channel as the orchestrator writes it. It watches the containing
// directory so it also picks the file up when the orchestrator creates it
// after the client started.
type Follower struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	events   chan research.Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	// Read position in the file; bytes before it were already emitted.
	offset int64
	// Trailing bytes of an incomplete final line, kept until the
	// orchestrator finishes writing it.
	partial []byte
}

// NewFollower creates a follower for the given event file. debounce
// collapses rapid write notifications; values <= 0 get a sane default.
func NewFollower(path string, debounce time.Duration) (*Follower, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Follower{
		watcher:  watcher,
		path:     filepath.Clean(path),
		debounce: debounce,
		events:   make(chan research.Event, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Events is the ordered stream of decoded events. Closed when the
// follower stops.
func (f *Follower) Events() <-chan research.Event { return f.events }

// Start begins following. Non-blocking; the follower runs in its own
// goroutine until Stop or context cancellation. Existing file content is
// drained first so a late-attaching client still sees the whole session.
func (f *Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil // Already running
	}
	f.running = true
	f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := f.watcher.Add(dir); err != nil {
		logging.StreamWarn("Follower: initial watch of %s failed: %v", dir, err)
	} else {
		logging.Stream("Follower: watching %s for %s", dir, filepath.Base(f.path))
	}

	go f.run(ctx)
	return nil
}

// Stop stops the follower and waits for cleanup.
func (f *Follower) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.mu.Unlock()

	close(f.stopCh)
	<-f.doneCh
}

func (f *Follower) run(ctx context.Context) {
	defer close(f.doneCh)
	defer close(f.events)
	defer f.watcher.Close()

	// Drain whatever is already on disk before waiting for writes.
	f.drain(ctx)

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce rapid appends into one drain.
			if pending == nil {
				pending = time.NewTimer(f.debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(f.debounce)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logging.StreamWarn("Follower: watch error: %v", err)
		case <-pendingC:
			pending = nil
			pendingC = nil
			f.drain(ctx)
		}
	}
}

// drain reads newly appended bytes, decodes complete lines and emits the
// events. A file that shrank (rotated/truncated) restarts from zero.
func (f *Follower) drain(ctx context.Context) {
	file, err := os.Open(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.StreamWarn("Follower: open %s: %v", f.path, err)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	if info.Size() < f.offset {
		logging.Stream("Follower: %s truncated, restarting from 0", f.path)
		f.offset = 0
		f.partial = nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		logging.StreamWarn("Follower: read %s: %v", f.path, err)
		return
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:idx])
		buf = buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		evt, err := DecodeLine(line)
		if err != nil {
			logging.StreamWarn("Follower: %v", err)
			continue
		}
		select {
		case f.events <- evt:
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		}
	}
	f.partial = append([]byte(nil), buf...)
}
