package watcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	event  string
	notice types.BuildNotice
	rooms  []string
}

type fakePublisher struct {
	calls chan published
	err   error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{calls: make(chan published, 16)}
}

func (f *fakePublisher) Emit(_ context.Context, event string, payload interface{}, rooms ...string) error {
	if f.err != nil {
		return f.err
	}
	f.calls <- published{event: event, notice: payload.(types.BuildNotice), rooms: rooms}
	return nil
}

func (f *fakePublisher) next(t *testing.T) published {
	t.Helper()
	select {
	case p := <-f.calls:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no build notice published")
		return published{}
	}
}

func (f *fakePublisher) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-f.calls:
		t.Fatalf("unexpected build notice %v", p.notice.Files)
	case <-time.After(wait):
	}
}

func startWatcher(t *testing.T, dir string, pub *fakePublisher) *watcher.Watcher {
	t.Helper()
	cfg := watcher.DefaultConfig()
	cfg.Dir = dir
	cfg.Debounce = 50 * time.Millisecond
	w, err := watcher.New(cfg, pub, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMatchPatterns(t *testing.T) {
	dir := t.TempDir()
	w, err := watcher.New(watcher.Config{Dir: dir, Patterns: []string{"**/*.js", "manifest.json"}}, newFakePublisher(), logging.NewNop())
	require.NoError(t, err)
	defer w.Close()

	tests := []struct {
		path string
		want bool
	}{
		{"code.js", true},
		{"ui/panel/index.js", true},
		{"manifest.json", true},
		{"nested/manifest.json", false},
		{"README.md", false},
		{"code.js.map", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Match(tt.path))
		})
	}
}

func TestNewValidates(t *testing.T) {
	dir := t.TempDir()

	_, err := watcher.New(watcher.Config{Dir: dir, Patterns: []string{"[unclosed"}}, newFakePublisher(), logging.NewNop())
	assert.Error(t, err)

	_, err = watcher.New(watcher.Config{Dir: filepath.Join(dir, "missing")}, newFakePublisher(), logging.NewNop())
	assert.Error(t, err)

	file := filepath.Join(dir, "file.js")
	write(t, file, "x")
	_, err = watcher.New(watcher.Config{Dir: file}, newFakePublisher(), logging.NewNop())
	assert.Error(t, err)
}

func TestBurstPublishesOnce(t *testing.T) {
	dir := t.TempDir()
	pub := newFakePublisher()
	startWatcher(t, dir, pub)

	for i := 0; i < 5; i++ {
		write(t, filepath.Join(dir, "code.js"), "console.log(1)")
		write(t, filepath.Join(dir, "ui.html"), "<div></div>")
		time.Sleep(5 * time.Millisecond)
	}

	p := pub.next(t)
	assert.Equal(t, types.EventBuildComplete, p.event)
	assert.Equal(t, []string{types.RoomSandbox, types.RoomObserver}, p.rooms)
	assert.Equal(t, []string{"code.js", "ui.html"}, p.notice.Files)
	assert.False(t, p.notice.At.IsZero())
	pub.none(t, 150*time.Millisecond)
}

func TestIgnoresUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	pub := newFakePublisher()
	startWatcher(t, dir, pub)

	write(t, filepath.Join(dir, "notes.txt"), "hello")
	pub.none(t, 200*time.Millisecond)
}

func TestWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "existing", "keep.txt"), "x")
	pub := newFakePublisher()
	w := startWatcher(t, dir, pub)
	assert.Equal(t, 2, w.Dirs())

	write(t, filepath.Join(dir, "existing", "a.js"), "a")
	assert.Equal(t, []string{"existing/a.js"}, pub.next(t).notice.Files)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chunks", "deep"), 0o755))
	require.Eventually(t, func() bool { return w.Dirs() == 4 }, time.Second, 10*time.Millisecond)

	write(t, filepath.Join(dir, "chunks", "deep", "b.js"), "b")
	assert.Equal(t, []string{"chunks/deep/b.js"}, pub.next(t).notice.Files)
}

func TestPublishReportsFailure(t *testing.T) {
	dir := t.TempDir()
	pub := newFakePublisher()
	pub.err = errors.New("relay down")
	w, err := watcher.New(watcher.Config{Dir: dir}, pub, logging.NewNop())
	require.NoError(t, err)
	defer w.Close()

	err = w.Publish(context.Background(), []string{"code.js"})
	assert.ErrorIs(t, err, pub.err)
}

func TestStartAndClose(t *testing.T) {
	dir := t.TempDir()
	w, err := watcher.New(watcher.Config{Dir: dir}, newFakePublisher(), logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), watcher.ErrStarted)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.ErrorIs(t, w.Start(context.Background()), watcher.ErrClosed)
}
