package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads c from path whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// (rename + create) are handled. Bad edits are logged and ignored.
func (c *Classifier) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer func() { _ = w.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(reloadDebounce)
			case <-pending:
				pending = nil
				c.reloadFrom(abs)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn("rule watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	c.log.Info("watching rule set", slog.String("path", abs))
	return nil
}

func (c *Classifier) reloadFrom(path string) {
	rs, err := LoadRuleSet(path)
	if err == nil {
		err = c.Reload(rs)
	}
	if err != nil {
		c.log.Warn("rule set reload rejected, keeping previous rules",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
