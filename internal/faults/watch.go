package faults

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadFunc re-reads the per-code trigger strings from the config file.
type LoadFunc func(path string) (map[string]string, error)

// Watch reloads the trigger plan whenever the config file changes on disk.
// It blocks until ctx is done; callers run it in its own goroutine. A reload
// that fails to parse keeps the previous plan.
func (c *Controller) Watch(ctx context.Context, path string, load LoadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	c.logger.Info("watching fault plan", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			triggers, err := load(path)
			if err != nil {
				c.logger.Warn("fault plan reload failed, keeping previous plan",
					zap.String("path", path), zap.Error(err))
				continue
			}
			if err := c.Reload(triggers); err != nil {
				c.logger.Warn("fault plan rejected, keeping previous plan",
					zap.String("path", path), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("fault plan watcher error", zap.Error(err))
		}
	}
}
