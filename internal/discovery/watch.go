package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

const watchDebounce = 100 * time.Millisecond

// WatchEvent carries a fresh driver list or a watch/list error.
type WatchEvent struct {
	Drivers []Driver
	Err     error
}

// WatchCleanupFunc stops a watch and waits for its goroutine to exit.
type WatchCleanupFunc func() error

// Watch emits a new List result whenever a driver entry in dir is created,
// removed, or renamed. Bursts of changes are debounced into one event.
func Watch(ctx context.Context, dir string) (<-chan WatchEvent, WatchCleanupFunc, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create driver watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("watch driver directory %q: %w", dir, err)
	}

	var (
		mu        sync.Mutex
		debouncer *time.Timer
		closed    bool
	)

	ch := make(chan WatchEvent, 4)
	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	})

	// send runs on debounce timers; mu keeps it from racing the close above.
	send := func() {
		drivers, err := List(dir)

		mu.Lock()
		defer mu.Unlock()
		if closed || sctx.IsStopping() {
			return
		}
		select {
		case ch <- WatchEvent{Drivers: drivers, Err: err}:
		case <-sctx.Stopping():
		}
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !IsDriverName(filepath.Base(event.Name)) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(watchDebounce, send)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					select {
					case ch <- WatchEvent{Err: err}:
					case <-sctx.Stopping():
						return nil
					}
				}
			}
		}
		return nil
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	return ch, cleanup, nil
}
