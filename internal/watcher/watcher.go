package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when starting a closed watcher.
	ErrClosed = errors.New("watcher closed")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("watcher already started")
)

// Publisher sends envelopes to the relay. *client.Client implements it.
type Publisher interface {
	Emit(ctx context.Context, event string, payload interface{}, targetRooms ...string) error
}

// Config controls what is watched and where notices go.
type Config struct {
	Dir string
	// Patterns are doublestar globs matched against slash-separated paths
	// relative to Dir. Empty matches everything.
	Patterns []string
	Debounce time.Duration
	// Rooms receive BUILD_COMPLETE.
	Rooms []string
	Now   func() time.Time
}

// DefaultConfig watches ./dist for bundle output.
func DefaultConfig() Config {
	return Config{
		Dir:      "dist",
		Patterns: []string{"**/*.js", "**/*.html", "manifest.json"},
		Debounce: 100 * time.Millisecond,
		Rooms:    []string{types.RoomSandbox, types.RoomObserver},
		Now:      time.Now,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if len(c.Rooms) == 0 {
		c.Rooms = d.Rooms
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

// Watcher turns bursts of file changes under a directory tree into single
// BUILD_COMPLETE notices.
type Watcher struct {
	cfg       Config
	root      string
	fs        *fsnotify.Watcher
	publisher Publisher
	logger    *logging.Logger

	mu      sync.Mutex
	dirs    map[string]struct{}
	pending map[string]struct{}
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool

	wg sync.WaitGroup
}

// New validates cfg and opens an fsnotify watcher. Nothing is watched until
// Start.
func New(cfg Config, publisher Publisher, logger *logging.Logger) (*Watcher, error) {
	cfg.setDefaults()
	for _, p := range cfg.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid watch pattern %q", p)
		}
	}

	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:       cfg,
		root:      root,
		fs:        fsw,
		publisher: publisher,
		logger:    logger.Named("watcher").With(zap.String("dir", root)),
		dirs:      make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Dirs returns the number of directories under watch.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Match reports whether rel, a slash-separated path relative to the root,
// is a watched file.
func (w *Watcher) Match(rel string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	for _, p := range w.cfg.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Start registers the directory tree and processes events until ctx is
// done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return ErrStarted
	}
	w.started = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	if _, err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching", zap.Int("dirs", w.Dirs()), zap.Strings("patterns", w.cfg.Patterns))

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Publish announces a finished build of files.
func (w *Watcher) Publish(ctx context.Context, files []string) error {
	notice := types.BuildNotice{Files: files, At: w.cfg.Now()}
	if err := w.publisher.Emit(ctx, types.EventBuildComplete, notice, w.cfg.Rooms...); err != nil {
		return fmt.Errorf("publish build: %w", err)
	}
	w.logger.Info("build complete", zap.Int("files", len(files)))
	return nil
}

// Close stops the watcher. Pending changes are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			files, err := w.addTree(ev.Name)
			if err != nil {
				w.logger.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			for _, f := range files {
				w.schedule(f)
			}
			return
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.dirs, ev.Name)
		w.mu.Unlock()
	}

	if rel, ok := w.relative(ev.Name); ok && w.Match(rel) {
		w.schedule(rel)
	}
}

// addTree watches dir and every directory below it, returning the matching
// files already present.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var (
		mu    sync.Mutex
		dirs  []string
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished mid-walk.
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if rel, ok := w.relative(p); ok && w.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	for _, d := range dirs {
		if err := w.fs.Add(d); err != nil {
			return files, fmt.Errorf("watch %s: %w", d, err)
		}
		w.mu.Lock()
		w.dirs[d] = struct{}{}
		w.mu.Unlock()
	}
	return files, nil
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.cfg.Debounce, w.flush)
		return
	}
	w.timer.Reset(w.cfg.Debounce)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	ctx := w.ctx
	w.mu.Unlock()

	sort.Strings(files)
	if err := w.Publish(ctx, files); err != nil {
		w.logger.Warn("build notice not delivered", zap.Strings("files", files), zap.Error(err))
	}
}
