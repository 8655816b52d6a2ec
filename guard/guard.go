// Package guard prevents two runs of the same pipeline from overlapping on
// one host.
//
// A run holds a zero-byte marker file, <dir>/<name>_is_in_process.lock, for
// as long as it is in progress. The marker is created atomically with
// O_EXCL, so a second run that races the first one loses cleanly and fails
// with ErrOverlap. While the marker is held, SIGINT and SIGTERM are
// intercepted: the guard logs the forced termination, removes every marker
// the process holds and exits.
//
// Usage:
//
//	release, err := guard.New(name, dir, logger).Acquire()
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// Locking is local-filesystem only and assumes a single host.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nomis52/gosync/logging"
)

// MarkerSuffix is appended to the pipeline name to form the marker file name.
const MarkerSuffix = "_is_in_process" + logging.LockSuffix

// ErrOverlap is returned by Acquire when another run of the same pipeline
// holds the marker.
var ErrOverlap = errors.New("sync is already in process")

// Guard owns the lock marker of one pipeline.
type Guard struct {
	name         string
	dir          string
	logger       *slog.Logger
	env          string
	allowOverlap bool
	signals      <-chan os.Signal
	exit         func(int)
}

// Option configures a Guard.
type Option func(*Guard)

// WithOverlapAllowed disables the guard: Acquire neither checks nor creates
// the marker and installs no signal handlers.
func WithOverlapAllowed(allow bool) Option {
	return func(g *Guard) {
		g.allowOverlap = allow
	}
}

// WithEnv sets the environment label included in overlap errors.
func WithEnv(env string) Option {
	return func(g *Guard) {
		g.env = env
	}
}

// WithSignals replaces OS signal delivery with the given channel.
func WithSignals(ch <-chan os.Signal) Option {
	return func(g *Guard) {
		g.signals = ch
	}
}

// WithExit replaces os.Exit, which is called after a termination signal
// has been handled.
func WithExit(exit func(int)) Option {
	return func(g *Guard) {
		g.exit = exit
	}
}

// New creates a guard for the named pipeline whose marker lives in dir.
// Termination records are written to logger.
func New(name, dir string, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		name:   name,
		dir:    dir,
		logger: logger,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MarkerPath returns the path of the lock marker.
func (g *Guard) MarkerPath() string {
	return filepath.Join(g.dir, g.name+MarkerSuffix)
}

// Acquire creates the marker and starts intercepting termination signals.
// The returned release function stops signal interception and removes the
// marker; it is safe to call more than once. When overlap is allowed,
// Acquire always succeeds and release does nothing.
//
// If the marker already exists, an alert is logged and an error wrapping
// ErrOverlap is returned.
func (g *Guard) Acquire() (func(), error) {
	if g.allowOverlap {
		return func() {}, nil
	}

	path := g.MarkerPath()
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			g.logger.Log(context.Background(), logging.LevelAlert, "sync is already in process",
				"lock", path,
				"env", g.env,
			)
			return nil, fmt.Errorf("%w: %s (env %q)", ErrOverlap, path, g.env)
		}
		return nil, fmt.Errorf("creating lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing lock marker: %w", err)
	}

	h := &holder{guard: g, path: path, done: make(chan struct{})}
	h.watch()
	return h.release, nil
}

// held tracks every marker this process holds. A termination signal
// removes all of them before the process exits, so concurrent runs in one
// scheduler process never leave a stale marker behind.
var held = struct {
	sync.Mutex
	holders map[*holder]struct{}
}{holders: make(map[*holder]struct{})}

// holder is one acquisition of the marker.
type holder struct {
	guard *Guard
	path  string
	done  chan struct{}
	stop  func()

	// finished is guarded by held. Once set, neither release nor a signal
	// touches the holder again.
	finished bool
}

func (h *holder) watch() {
	signals := h.guard.signals
	h.stop = func() {}
	if signals == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		h.stop = func() { signal.Stop(ch) }
		signals = ch
	}

	held.Lock()
	held.holders[h] = struct{}{}
	held.Unlock()

	go func() {
		select {
		case sig := <-signals:
			h.terminate(sig)
		case <-h.done:
		}
	}()
}

// terminate handles the first termination signal. Every marker still held
// by the process is removed and gets its own termination record, then the
// process exits. A signal that arrives after release is ignored.
func (h *holder) terminate(sig os.Signal) {
	held.Lock()
	if h.finished {
		held.Unlock()
		return
	}
	victims := make([]*holder, 0, len(held.holders))
	for other := range held.holders {
		other.finished = true
		victims = append(victims, other)
	}
	clear(held.holders)
	held.Unlock()

	level := logging.LevelAlert
	if sig == syscall.SIGINT {
		level = slog.LevelError
	}
	for _, v := range victims {
		v.stop()
		close(v.done)
		v.guard.logger.Log(context.Background(), level, "sync terminated by signal",
			"signal", sig.String(),
			"lock", v.path,
		)
		v.remove()
	}
	h.guard.exit(exitCode(sig))
}

func (h *holder) release() {
	held.Lock()
	if h.finished {
		held.Unlock()
		return
	}
	h.finished = true
	delete(held.holders, h)
	held.Unlock()

	h.stop()
	close(h.done)
	h.remove()
}

func (h *holder) remove() {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.guard.logger.Error("failed to remove lock marker", "lock", h.path, "error", err)
	}
}

// exitCode follows the shell convention of 128 + signal number.
func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
