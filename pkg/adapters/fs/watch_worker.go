package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/dealroom/pkg/core"
)

const debounceWindow = 50 * time.Millisecond

// Watch emits an event for every file change whose document ID matches the
// doublestar pattern. The channel is closed when ctx is done.
func (r *Repository) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := r.recursiveAdd(watcher, r.Path, nil); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	events := make(chan core.Event)
	w := &watchWorker{
		repo:      r,
		pattern:   pattern,
		events:    events,
		watcher:   watcher,
		debouncer: newDebouncer(debounceWindow),
		stop:      make(chan struct{}),
	}

	r.setWatcherActive(true)
	lifecycle.Go(ctx, w.run, lifecycle.WithErrorHandler(func(err error) {
		if r.config.ErrorHandler != nil {
			r.config.ErrorHandler(fmt.Errorf("watcher: %w", err))
			return
		}
		r.config.Logger.Error("watcher failed", "error", err)
	}))
	return events, nil
}

type watchWorker struct {
	repo      *Repository
	pattern   string
	events    chan core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	stop      chan struct{}
}

// run is the main event loop for the watcher.
func (w *watchWorker) run(ctx context.Context) (err error) {
	logger := w.repo.config.Logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("watcher panic", "error", err)
			}
		}
	}()
	defer w.repo.setWatcherActive(false)
	defer close(w.events)
	defer w.watcher.Close()

	err = w.loop(ctx)
	close(w.stop)

	// All timers must have fired or been cancelled before events is closed.
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("watcher events channel closed")
			}
			w.process(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("watcher errors channel closed")
			}
			w.repo.config.Logger.Error("fsnotify error", "error", wErr)
			if w.repo.config.ErrorHandler != nil {
				w.repo.config.ErrorHandler(wErr)
			}
		}
	}
}

// process filters, maps and debounces a single filesystem event.
func (w *watchWorker) process(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.repo.ignoredDir(info.Name()) {
				// Files may land before the new directory is watched.
				onFile := func(p string) {
					w.process(ctx, fsnotify.Event{Name: p, Op: fsnotify.Create})
				}
				if err := w.repo.recursiveAdd(w.watcher, event.Name, onFile); err != nil {
					w.repo.config.Logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
	}

	id, ok := w.repo.resolveID(event.Name)
	if !ok {
		return
	}
	if match, _ := doublestar.Match(w.pattern, id); !match {
		return
	}

	var eType core.EventType
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		eType = core.EventDelete
	case event.Has(fsnotify.Create):
		eType = core.EventCreate
	case event.Has(fsnotify.Write):
		eType = core.EventModify
	default:
		return
	}

	e := core.Event{Type: eType, ID: id, Timestamp: time.Now().UnixNano()}
	w.repo.config.Logger.Debug("event received", "event", e.String())

	w.debouncer.add(e, func(e core.Event) {
		// The file decides the final state once the burst settles.
		if doc, err := w.repo.Get(ctx, e.ID); err == nil {
			e.Version = doc.Version
			if e.Type == core.EventDelete {
				e.Type = core.EventModify
			}
		} else if errors.Is(err, core.ErrNotFound) {
			e.Type = core.EventDelete
		}
		select {
		case w.events <- e:
		case <-w.stop:
		case <-ctx.Done():
		}
	})
}

// recursiveAdd watches dir and every non-system directory below it.
// onFile, when set, is called for every regular file found.
func (r *Repository) recursiveAdd(watcher *fsnotify.Watcher, dir string, onFile func(string)) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if onFile != nil {
				onFile(p)
			}
			return nil
		}
		if p != r.Path && r.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (r *Repository) ignoredDir(name string) bool {
	return name == ".git" || name == r.config.SystemDir
}

// resolveID maps an absolute file path to a document ID.
// It reports false for temp files, system files and unknown formats.
func (r *Repository) resolveID(fullPath string) (string, bool) {
	if isTempFile(fullPath) {
		return "", false
	}
	if _, ok := r.serializers[filepath.Ext(fullPath)]; !ok {
		return "", false
	}
	rel, err := filepath.Rel(r.Path, fullPath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if r.ignoredDir(part) {
			return "", false
		}
	}
	return r.idFor(rel), true
}

// debouncer collapses bursts of events per document ID into a single callback.
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) add(e core.Event, fire func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[e.ID]; ok && t.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.timers[e.ID] == t {
			delete(d.timers, e.ID)
		}
		d.mu.Unlock()
		fire(e)
	})
	d.timers[e.ID] = t
}

// stopAndWait cancels pending timers and waits for running callbacks.
func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
