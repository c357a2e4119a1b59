package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pluginbridge/internal/bridge"
	"github.com/GriffinCanCode/pluginbridge/internal/lifecycle"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/status"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
)

type script struct {
	name   string
	source string
}

func runExec(ctx context.Context, args []string) error {
	var (
		c         common
		eval      string
		files     []string
		timeout   time.Duration
		threshold uint32
	)
	flags := pflag.NewFlagSet("exec", pflag.ContinueOnError)
	c.register(flags)
	flags.StringVarP(&eval, "eval", "e", "", "script source to run")
	flags.StringArrayVarP(&files, "file", "f", nil, "script file to run; repeatable, '-' reads stdin")
	flags.DurationVarP(&timeout, "timeout", "t", 0, "per-script timeout (default $BRIDGE_TIMEOUT)")
	flags.Uint32Var(&threshold, "breaker-threshold", 3, "consecutive transport failures before remaining scripts fail fast")
	if ok, err := parse(flags, args); !ok {
		return err
	}

	scripts, err := collectScripts(eval, files, flags.Args())
	if err != nil {
		return err
	}

	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if timeout <= 0 {
		timeout = cfg.Bridge.Timeout
	}

	relayURL, httpURL := c.endpoints(cfg)
	readyCtx, cancel := context.WithTimeout(ctx, cfg.Bridge.ReadyTimeout)
	defer cancel()
	if _, err := status.New(status.DefaultConfig(httpURL), logger).WaitHealthy(readyCtx); err != nil {
		return err
	}

	conn, err := client.Dial(ctx, lifecycle.ClientConfig(cfg, relayURL, types.RoomHarness), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	b := bridge.New(conn, bridge.Config{TargetRoom: cfg.Bridge.TargetRoom, Timeout: timeout}, logger,
		bridge.WithBreaker(bridge.NewBreaker(threshold, 30*time.Second, logger)))
	defer b.Close()

	if err := b.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("wait for executor: %w", err)
	}

	var errs []error
	for _, s := range scripts {
		value, err := b.CallRemote(ctx, s.source)
		if err != nil {
			logger.Error("script failed", zap.String("script", s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		out, err := sonic.ConfigStd.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result of %s: %w", s.name, err)
		}
		fmt.Fprintln(os.Stdout, string(out))
	}
	return errors.Join(errs...)
}

func collectScripts(eval string, files, positional []string) ([]script, error) {
	files = append(files, positional...)
	var scripts []script
	if eval != "" {
		scripts = append(scripts, script{name: "-e", source: eval})
	}
	for _, f := range files {
		var (
			data []byte
			err  error
		)
		if f == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(f)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		scripts = append(scripts, script{name: f, source: string(data)})
	}
	if len(scripts) == 0 {
		return nil, usageError("nothing to run: pass --eval or --file")
	}
	return scripts, nil
}
