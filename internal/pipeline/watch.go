package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch consumes object-created notifications for the source prefix and runs
// the stage for each new object. On a filesystem bucket the notifications are
// file events on the prefix directory.
func (s *Stage) Watch(ctx context.Context, root, prefix string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close watcher")
		}
	}()

	dir := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Msg("watching for source objects")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil {
				continue
			}
			key := filepath.ToSlash(rel)
			rep, err := s.Process(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().Err(err).Str("source", key).Msg("source object failed")
				continue
			}
			log.Info().Str("source", key).Int("processed", rep.Processed).Int("failed", rep.Failed).Msg("event handled")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}
