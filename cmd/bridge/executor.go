package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/pluginbridge/internal/executor"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/lifecycle"
	"github.com/GriffinCanCode/pluginbridge/internal/sandbox"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
)

func runExecutor(ctx context.Context, args []string) error {
	var (
		c    common
		size int
	)
	flags := pflag.NewFlagSet("executor", pflag.ContinueOnError)
	c.register(flags)
	flags.IntVar(&size, "pool-size", 0, "sandbox runtimes (default $EXECUTOR_POOL_SIZE)")
	if ok, err := parse(flags, args); !ok {
		return err
	}

	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if size <= 0 {
		size = cfg.Executor.PoolSize
	}

	pool, err := sandbox.NewPool(sandbox.Config{Timeout: cfg.Executor.Timeout}, size)
	if err != nil {
		return fmt.Errorf("sandbox pool: %w", err)
	}
	defer pool.Close()

	relayURL, _ := c.endpoints(cfg)
	conn, err := client.Dial(ctx, lifecycle.ClientConfig(cfg, relayURL, types.RoomSandbox), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	exec := executor.New(conn, pool, sandbox.NewDocument(), executor.DefaultConfig(), logger, monitoring.NewMetrics())
	if err := exec.Start(ctx); err != nil {
		return err
	}
	defer exec.Stop()

	<-ctx.Done()
	return nil
}
