// Package watcher implements component D: it watches the filesystem
// directories that contain each mapping's local-stream peer endpoint
// and delivers a "name created" event to every subscriber whose
// expected filename matches. It is built on fsnotify instead of raw
// inotify_init/inotify_add_watch syscalls, which already reassembles
// partial kernel event records for us.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/syc2012/nptpd/internal/bridgerr"
)

// subscription binds one expected filename within a watched directory
// to the callback invoked when it appears.
type subscription struct {
	token uuid.UUID
	name  string
	fn    func()
}

// Watcher registers a single fsnotify watch per distinct directory and
// fans out creation events to every subscriber whose expected name
// matches. Subscribers must be idempotent: the underlying event stream
// is at-least-once.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	dirs    map[string]struct{}
	subs    map[string][]subscription // keyed by directory
}

// New creates the underlying fsnotify watcher. It fails with
// bridgerr.ErrWatcherFailed, which is fatal for the daemon per
// spec.md §7.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridgerr.ErrWatcherFailed, err)
	}
	return &Watcher{
		fsw:  fsw,
		dirs: make(map[string]struct{}),
		subs: make(map[string][]subscription),
	}, nil
}

// Subscribe registers dir/name as a (directory, expected-filename)
// tuple. A single fsnotify watch is shared across every subscriber of
// the same directory. Returns an opaque watch token carrying no
// behavior beyond correlation in logs.
func (w *Watcher) Subscribe(dir, name string, onCreate func()) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; !ok {
		if err := w.fsw.Add(dir); err != nil {
			return uuid.UUID{}, fmt.Errorf("%w: watch %s: %v", bridgerr.ErrWatcherFailed, dir, err)
		}
		w.dirs[dir] = struct{}{}
	}

	token := uuid.New()
	w.subs[dir] = append(w.subs[dir], subscription{token: token, name: name, fn: onCreate})
	return token, nil
}

// Run blocks, dispatching "name created" events to subscribers until
// ctx is cancelled (Run returns ctx.Err()) or Close is called (Close
// closes the fsnotify channels and Run returns nil).
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			w.dispatch(filepath.Dir(ev.Name), filepath.Base(ev.Name))

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			// A single bad event must not take down the watcher; the
			// next read continues the loop.
		}
	}
}

func (w *Watcher) dispatch(dir, name string) {
	w.mu.Lock()
	subs := append([]subscription(nil), w.subs[dir]...)
	w.mu.Unlock()

	for _, s := range subs {
		if s.name == name {
			s.fn()
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
