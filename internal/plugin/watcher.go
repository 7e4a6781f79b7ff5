package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Watch observes the tools directory and plugin directories and emits the
// source path of each changed unit once its changes settle for debounce.
// The caller applies changes with ReloadPath. The channel closes when ctx is
// done.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration) (<-chan string, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var roots []string
	if l.toolsDir != "" {
		roots = append(roots, l.toolsDir)
	}
	roots = append(roots, l.pluginDirs...)
	for _, root := range roots {
		if err := watcher.Add(root); err != nil {
			l.logger.Warn("cannot watch directory", "dir", root, "err", err)
			continue
		}
		l.logger.Debug("watching plugin directory", "dir", root)
	}
	for _, dir := range l.pluginDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				l.addWatch(watcher, filepath.Join(dir, e.Name()))
			}
		}
	}

	changes := make(chan string, 16)
	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
		stop   = make(chan struct{})
	)

	go func() {
		defer func() {
			watcher.Close()
			mu.Lock()
			for _, t := range timers {
				if t.Stop() {
					wg.Done()
				}
			}
			mu.Unlock()
			close(stop)
			wg.Wait()
			close(changes)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ignoredFile(event.Name) {
					continue
				}
				if event.Op.Has(fsnotify.Create) && l.isPluginRoot(event.Name) {
					l.addWatch(watcher, event.Name)
				}
				src, ok := l.sourceForPath(event.Name)
				if !ok {
					continue
				}

				mu.Lock()
				if t, pending := timers[src.id]; pending && t.Stop() {
					wg.Done()
				}
				wg.Add(1)
				path := src.path
				id := src.id
				timers[id] = time.AfterFunc(debounce, func() {
					defer wg.Done()
					mu.Lock()
					delete(timers, id)
					mu.Unlock()
					l.logger.Info("plugin change detected", "unit", id, "path", path)
					select {
					case changes <- path:
					case <-stop:
					}
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("plugin watcher error", "err", err)
			}
		}
	}()

	return changes, nil
}

func (l *Loader) addWatch(w *fsnotify.Watcher, dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.Add(dir); err != nil {
		l.logger.Warn("cannot watch plugin", "dir", dir, "err", err)
	}
}

// isPluginRoot reports whether path is a direct child of a plugin directory.
func (l *Loader) isPluginRoot(path string) bool {
	parent := filepath.Clean(filepath.Dir(path))
	for _, dir := range l.pluginDirs {
		if parent == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// ignoredFile filters editor swap and backup files.
func ignoredFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}
