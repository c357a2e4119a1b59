package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		port       int
		host       string
		dev        bool
	)

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "YAML or TOML config file overlaying the environment")
	flags.IntVarP(&port, "port", "p", 0, "base port; the relay listens on port+RELAY_PORT_OFFSET (default $PORT)")
	flags.StringVar(&host, "host", "", "listen host (default $HOST)")
	flags.BoolVar(&dev, "dev", false, "development logging")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Relay.BasePort = port
	}
	if host != "" {
		cfg.Relay.Host = host
	}
	if dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	srv := server.New(cfg, logger, monitoring.NewMetrics())
	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Wait() }()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
