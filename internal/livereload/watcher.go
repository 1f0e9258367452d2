package livereload

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce groups bursts of file events into one callback
const DefaultDebounce = 100 * time.Millisecond

// Event is a debounced file change
type Event struct {
	Root string
	Path string
}

// WatchOptions configures a Watcher
type WatchOptions struct {
	// Filter reports whether a changed path is interesting; nil accepts all
	Filter func(path string) bool
	// Debounce delays callbacks until events stop for this long
	Debounce time.Duration
}

// Watcher watches directory trees and calls back on file changes
type Watcher struct {
	roots []string
	opts  WatchOptions
	fn    func(Event)
}

// NewWatcher creates a watcher over roots. fn is called from the watcher's
// goroutines, once per root per burst of events.
func NewWatcher(roots []string, opts WatchOptions, fn func(Event)) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{roots: roots, opts: opts, fn: fn}
}

// ExtensionFilter accepts paths with one of the given extensions, without dot
func ExtensionFilter(exts ...string) func(string) bool {
	return func(p string) bool {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				return true
			}
		}
		return false
	}
}

// Run watches until ctx is done. Roots that do not exist are skipped.
func (w *Watcher) Run(ctx context.Context) error {
	errCh := make(chan error, len(w.roots))
	started := 0
	for _, root := range w.roots {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", root).Msg("Skipping missing watch root")
			continue
		}
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := addTree(fw, root); err != nil {
			_ = fw.Close()
			return err
		}
		started++
		go func(root string) {
			errCh <- w.loop(ctx, fw, root)
		}(root)
	}
	if started == 0 {
		<-ctx.Done()
		return nil
	}

	var firstErr error
	for i := 0; i < started; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, root string) error {
	defer fw.Close()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						log.Warn().Err(err).Str("path", ev.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if w.opts.Filter != nil && !w.opts.Filter(ev.Name) {
				continue
			}
			pending = ev.Name
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.fn(Event{Root: root, Path: pending})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("root", root).Msg("File watcher error")
		}
	}
}
