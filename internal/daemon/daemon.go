// Package daemon implements the watch-compile loop: a single long-lived
// task that owns the filesystem subscription, debounces change bursts and
// runs one compile cycle per settled change.
package daemon

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
	"github.com/eliteGoblin/pklkb/internal/usecase"
)

// State is the daemon's lifecycle position. Transitions happen only inside
// Run; other goroutines may read it through State().
type State int32

const (
	StateIdle State = iota
	StateWatching
	StateCompiling
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateCompiling:
		return "compiling"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultDebounce is the settle window used to coalesce bursts of
// filesystem events into one logical change.
const DefaultDebounce = 300 * time.Millisecond

// CompileService runs one compile-merge-write cycle.
type CompileService interface {
	Run(ctx context.Context, opts usecase.Options) error
}

// Daemon watches the source file's directory and recompiles on change.
// Compile cycles are strictly serialized: the loop drains its own event
// channel and never starts a cycle before the previous one, including its
// write and notification, has finished.
type Daemon struct {
	sourcePath string
	compiler   CompileService
	notifier   domain.Notifier
	token      domain.SingletonToken
	logger     *zap.Logger
	debounce   time.Duration

	state atomic.Int32
}

// New creates a daemon watching sourcePath.
func New(
	sourcePath string,
	compiler CompileService,
	notifier domain.Notifier,
	token domain.SingletonToken,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		sourcePath: sourcePath,
		compiler:   compiler,
		notifier:   notifier,
		token:      token,
		logger:     logger,
		debounce:   DefaultDebounce,
	}
}

// SetDebounce overrides the settle window (for testing).
func (d *Daemon) SetDebounce(dur time.Duration) {
	d.debounce = dur
}

// State returns the daemon's current lifecycle state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
}

// Run claims the singleton token and blocks in the watch loop until the
// context is canceled. The token is released on every exit path.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.token.Claim(); err != nil {
		return err
	}
	defer func() {
		if err := d.token.Release(); err != nil {
			// The process is exiting regardless; log and move on.
			d.logger.Warn("failed to release singleton token", zap.Error(err))
		}
		d.setState(StateStopped)
	}()

	d.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("watching", d.sourcePath))

	d.setState(StateWatching)

	// Always produce current output on start, even with no file change.
	d.runCycle(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &domain.WatchError{Err: err}
	}
	defer watcher.Close()

	watchRoot := filepath.Dir(d.sourcePath)
	if err := d.addRecursive(watcher, watchRoot); err != nil {
		return &domain.WatchError{Err: err}
	}

	return d.watchLoop(ctx, watcher)
}

// watchLoop drains filesystem events, coalescing them over the debounce
// window. Each qualifying batch triggers exactly one compile cycle.
func (d *Daemon) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	var (
		eventsBuffer []string
		flushTimer   <-chan time.Time
	)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return &domain.WatchError{Err: fsnotify.ErrClosed}
			}
			if ev.Op == fsnotify.Chmod {
				break
			}

			// Editors create directories mid-save; keep the subtree covered.
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := d.addRecursive(watcher, ev.Name); err != nil {
						d.logger.Debug("failed to watch new directory",
							zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}

			eventsBuffer = append(eventsBuffer, ev.Name)
			if flushTimer == nil {
				flushTimer = time.After(d.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return &domain.WatchError{Err: fsnotify.ErrClosed}
			}
			d.logger.Error("watch error", zap.Error(err))

		case <-flushTimer:
			batch := eventsBuffer
			eventsBuffer = nil
			flushTimer = nil

			if d.batchMatchesSource(batch) {
				d.logger.Info("configuration file changed, recompiling")
				d.runCycle(ctx)
			}

		case <-ctx.Done():
			d.setState(StateStopping)
			d.logger.Info("daemon stopping")
			return nil
		}
	}
}

// batchMatchesSource reports whether any event in the batch refers to the
// source file. Comparison is by final path component so atomic-rename saves
// still match.
func (d *Daemon) batchMatchesSource(batch []string) bool {
	want := filepath.Base(d.sourcePath)
	for _, path := range batch {
		if filepath.Base(path) == want {
			return true
		}
	}
	return false
}

// runCycle executes one compile cycle. Failures are reported through the
// notification sink and logged; they never terminate the loop.
func (d *Daemon) runCycle(ctx context.Context) {
	d.setState(StateCompiling)
	defer d.setState(StateWatching)

	if err := d.compiler.Run(ctx, usecase.Options{}); err != nil {
		d.logger.Error("compile cycle failed", zap.Error(err))
		d.notifier.Error("Error", err.Error())
		return
	}

	d.logger.Info("compile cycle succeeded")
	d.notifier.Success("Success", "Karabiner configuration updated")
}

// addRecursive watches root and every directory beneath it. Failures below
// the root are logged, not fatal.
func (d *Daemon) addRecursive(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() || path == root {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			d.logger.Debug("failed to watch directory",
				zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}
