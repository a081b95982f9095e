package notify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks until the file channel holds a notification other than last
// and returns it. The artifact is only read; the status service stays its
// sole consumer. A pending notification that differs from last is returned
// immediately, so callers loop by passing back the previous result.
func Watch(ctx context.Context, ch *FileChannel, last *Payload) (*Payload, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// The artifact is replaced via rename, so the directory is watched
	// rather than the file itself.
	if err := watcher.Add(filepath.Dir(ch.Path())); err != nil {
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(ch.Path()), err)
	}

	// Checked after the watch is armed so nothing written in between is missed.
	if p, err := ch.Peek(ctx); err != nil || isNew(p, last) {
		return p, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			return nil, fmt.Errorf("watcher: %w", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(ch.Path()) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			p, err := ch.Peek(ctx)
			if err != nil || isNew(p, last) {
				return p, err
			}
		}
	}
}

func isNew(p, last *Payload) bool {
	if p == nil {
		return false
	}
	if last == nil {
		return true
	}
	return !p.Timestamp.Equal(last.Timestamp) || p.Message != last.Message
}
