package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/perturbd/perturbd/pkg/config"
)

// reloadDebounce coalesces the burst of filesystem events editors
// produce when saving a file.
const reloadDebounce = 250 * time.Millisecond

// WatchConfig watches the configuration file and swaps the server's
// snapshot when it changes. A reload that fails to load or validate
// is logged and the previous snapshot keeps serving. The watch runs
// until ctx is cancelled.
//
// The parent directory is watched rather than the file itself because
// most editors replace files via rename, which drops an inode-level
// watch.
func WatchConfig(ctx context.Context, path string, srv *Server, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	log.Info("watching configuration file", "path", absPath)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			reload(absPath, srv, log)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", werr)
		}
	}
}

// reload loads, validates and publishes a new configuration. Failures
// leave the running configuration untouched.
func reload(path string, srv *Server, log *slog.Logger) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		log.Error("reload: failed to load configuration, keeping previous", "path", path, "error", err)
		return
	}
	if result := config.Validate(cfg); !result.IsValid() {
		log.Error("reload: configuration invalid, keeping previous", "path", path, "error", result.Error())
		return
	}
	if err := srv.Swap(cfg); err != nil {
		log.Error("reload: failed to build snapshot, keeping previous", "path", path, "error", err)
	}
}
