package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes the result
// to fn; a file that fails to load is reported through err and the previous
// configuration should stay in effect. Bursts of events are coalesced. Watch
// blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so editors that
// replace the file on save are still followed.
func Watch(ctx context.Context, path string, fn func(f *File, err error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	var (
		mu      sync.Mutex
		timer   *time.Timer
		pending bool
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	reload := func() {
		defer wg.Done()
		mu.Lock()
		pending = false
		mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fn(Load(abs))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if !pending {
				pending = true
				wg.Add(1)
				timer = time.AfterFunc(watchDebounce, reload)
			} else if timer.Stop() {
				timer.Reset(watchDebounce)
			}
			mu.Unlock()

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
