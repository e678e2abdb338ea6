package cache

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// contentWatcher watches a cache root for entries created outside the
// Cache's own writes (spec.md §6 "an operator copying bundle content into
// cache.dir between process restarts triggers a reload on next init()").
// It only tracks that *something* changed; Framework decides what to do
// with a dirty cache.
type contentWatcher struct {
	fsw   *fsnotify.Watcher
	dirty atomic.Bool
}

func newContentWatcher(root string) (*contentWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &contentWatcher{fsw: fsw}, nil
}

func (w *contentWatcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				w.dirty.Store(true)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *contentWatcher) close() error {
	return w.fsw.Close()
}
