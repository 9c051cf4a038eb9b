package lumen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/internal/logger"
	"github.com/lumen-lang/lumen/pkg/lir"
)

// SourceWatcher recompiles a document whenever it changes on disk,
// backing the CLI watch mode.
type SourceWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchResult is one recompilation outcome delivered to the callback.
type WatchResult struct {
	Module      *lir.Module
	Diagnostics []diagnostic.Diagnostic
	Err         error
}

// NewSourceWatcher starts watching path's directory (editors often
// replace files rather than writing in place, so the directory is the
// reliable watch target) and invokes onChange with each fresh compile.
func NewSourceWatcher(path string, onChange func(WatchResult)) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	sw := &SourceWatcher{path: path, watcher: w, done: make(chan struct{})}
	go sw.loop(onChange)
	return sw, nil
}

func (sw *SourceWatcher) loop(onChange func(WatchResult)) {
	abs, _ := filepath.Abs(sw.path)
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			evAbs, _ := filepath.Abs(ev.Name)
			if evAbs != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Get().Debug().Str("file", sw.path).Msg("source changed, recompiling")
			onChange(sw.recompile())
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			logger.Get().Warn().Err(err).Msg("watch error")
		case <-sw.done:
			return
		}
	}
}

func (sw *SourceWatcher) recompile() WatchResult {
	doc, err := os.ReadFile(sw.path)
	if err != nil {
		return WatchResult{Err: fmt.Errorf("watch: read %s: %w", sw.path, err)}
	}
	mod, diags := Compile(string(doc), CompileOptions{Filename: sw.path})
	return WatchResult{Module: mod, Diagnostics: diags}
}

// Close stops the watcher.
func (sw *SourceWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}
