package lifecycle_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/bridge"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/lifecycle"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/task"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Relay.BasePort = 0
	cfg.Relay.PortOffset = 0
	cfg.Executor.PoolSize = 2
	cfg.Watcher.Dir = filepath.Join(t.TempDir(), "dist")
	cfg.Watcher.Debounce = 30 * time.Millisecond
	cfg.Bridge.ReadyTimeout = 5 * time.Second
	return cfg
}

func dial(t *testing.T, env *lifecycle.Env, room string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), lifecycle.ClientConfig(env.Config, env.Server.URL(), room), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunBringsUpEnvironment(t *testing.T) {
	metrics := monitoring.NewMetrics()
	lc := lifecycle.New(testConfig(t), logging.NewNop(), metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lc.Close(ctx)
	})

	assert.Equal(t, []string{"config", "executor", "ready", "relay", "services", "watcher"}, lc.Tasks().Names())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env, err := lc.Run(ctx, types.Options{Command: "dev"})
	require.NoError(t, err)
	require.NotNil(t, env.Server)
	require.NotNil(t, env.Executor)
	require.NotNil(t, env.Watcher)
	require.NotNil(t, env.Ready)
	require.NotNil(t, env.Ready.Health)
	assert.True(t, env.Ready.Health.Healthy())
	assert.Equal(t, env.Executor.ID(), env.Ready.ExecutorID)

	b := bridge.New(dial(t, env, types.RoomHarness), bridge.DefaultConfig(), logging.NewNop())
	t.Cleanup(b.Close)
	require.NoError(t, b.WaitReady(ctx))

	value, err := b.CallRemote(ctx, "return 20 + 22")
	require.NoError(t, err)
	assert.EqualValues(t, 42, value)

	observer := dial(t, env, types.RoomObserver)
	builds := make(chan types.BuildNotice, 1)
	observer.On(types.EventBuildComplete, func(e types.Envelope) {
		var notice types.BuildNotice
		if e.Decode(&notice) == nil {
			select {
			case builds <- notice:
			default:
			}
		}
	})
	require.NoError(t, os.WriteFile(filepath.Join(env.Config.Watcher.Dir, "code.js"), []byte("x"), 0o644))

	select {
	case notice := <-builds:
		assert.Equal(t, []string{"code.js"}, notice.Files)
	case <-time.After(3 * time.Second):
		t.Fatal("no BUILD_COMPLETE observed")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, lc.Close(closeCtx))
	assert.True(t, env.Server.Hub().Closed())
}

func TestRunAppliesOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watcher.Enabled = false
	lc := lifecycle.New(cfg, logging.NewNop(), nil)
	t.Cleanup(func() { _ = lc.Close(context.Background()) })

	env, err := lc.Run(context.Background(), types.Options{Debug: true})
	require.NoError(t, err)
	assert.Nil(t, env.Watcher)
	assert.True(t, env.Config.Logging.Development)
	assert.False(t, cfg.Logging.Development)
	require.NotNil(t, env.Ready)
	assert.Equal(t, env.Executor.ID(), env.Ready.ExecutorID)
}

func TestReadyFailsWithoutExecutorAnswer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watcher.Enabled = false
	cfg.Bridge.TargetRoom = types.RoomObserver
	cfg.Bridge.ReadyTimeout = 300 * time.Millisecond

	start := time.Now()
	_, err := lifecycle.New(cfg, logging.NewNop(), nil).Run(context.Background(), types.Options{})
	var execErr *task.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, lifecycle.TaskReady, execErr.Task)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, execErr.Completed, lifecycle.TaskExecutor)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunFailsOnTakenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Relay.BasePort = ln.Addr().(*net.TCPAddr).Port

	_, err = lifecycle.New(cfg, logging.NewNop(), nil).Run(context.Background(), types.Options{})
	var execErr *task.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, lifecycle.TaskRelay, execErr.Task)
	assert.Contains(t, execErr.Completed, lifecycle.TaskConfig)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Client.EmitAttempts = 0

	_, err := lifecycle.New(cfg, logging.NewNop(), nil).Run(context.Background(), types.Options{})
	var execErr *task.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, lifecycle.TaskConfig, execErr.Task)
}
