package session

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/pkg/errors"
)

// Follow calls fn for every entry appended to the log after Follow starts,
// until ctx is done or fn returns an error. The log's directory is watched,
// so the log does not need to exist yet.
func (s *Store) Follow(ctx context.Context, fn func(Entry) error) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	seen := len(entries)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Warn("checkpoint watcher error")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			entries, err := s.List(ctx)
			if err != nil {
				return err
			}
			if len(entries) < seen {
				// the log was replaced; start over from its end
				seen = len(entries)
				continue
			}
			for _, e := range entries[seen:] {
				if err := fn(e); err != nil {
					return err
				}
			}
			seen = len(entries)
		}
	}
}
