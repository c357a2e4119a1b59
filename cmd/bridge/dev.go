package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/lifecycle"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
)

func runDev(ctx context.Context, args []string) error {
	var (
		c    common
		port int
	)
	flags := pflag.NewFlagSet("dev", pflag.ContinueOnError)
	c.register(flags)
	flags.IntVarP(&port, "port", "p", 0, "base port (default $PORT)")
	if ok, err := parse(flags, args); !ok {
		return err
	}

	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	lc := lifecycle.New(cfg, logger, monitoring.NewMetrics())
	env, err := lc.Run(ctx, types.Options{Debug: c.debug, Port: port, Command: "dev"})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "relay:    %s\nstatus:   %s/health\nexecutor: %s\n",
		env.Server.URL(), env.Server.HTTPURL(), env.Executor.ID())
	if env.Watcher != nil {
		fmt.Fprintf(os.Stderr, "watching: %s\n", env.Watcher.Root())
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case err := <-waitServer(env):
		if err != nil {
			logger.Error("relay stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return lc.Close(shutdownCtx)
}

func waitServer(env *lifecycle.Env) <-chan error {
	done := make(chan error, 1)
	go func() { done <- env.Server.Wait() }()
	return done
}
