package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"exec", "run scripts in the sandbox and print their results", runExec},
	{"dev", "start relay, executor and build watcher together", runDev},
	{"executor", "serve the sandbox room against a running relay", runExecutor},
	{"rooms", "print the relay's current room membership", runRooms},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := dispatch(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	printUsage()
	return usageError(fmt.Sprintf("unknown command %q", args[0]))
}

func printUsage() {
	var b strings.Builder
	b.WriteString("Usage: bridge <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-9s %s\n", cmd.name, cmd.summary)
	}
	b.WriteString("\nRun 'bridge <command> --help' for command flags.\n")
	fmt.Fprint(os.Stderr, b.String())
}

// common holds the flags every command takes.
type common struct {
	configPath string
	relayURL   string
	debug      bool
}

func (c *common) register(flags *pflag.FlagSet) {
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML or TOML config file overlaying the environment")
	flags.StringVar(&c.relayURL, "relay", "", "relay WebSocket URL (default derived from PORT and HOST)")
	flags.BoolVar(&c.debug, "debug", false, "debug logging")
}

func (c *common) load() (*config.Config, *logging.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if c.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// endpoints returns the relay WebSocket URL and its HTTP status root.
func (c *common) endpoints(cfg *config.Config) (string, string) {
	if c.relayURL == "" {
		return cfg.Relay.URL(), cfg.Relay.HTTPURL()
	}
	return c.relayURL, statusURL(c.relayURL)
}

// statusURL maps ws://host:port/relay to http://host:port.
func statusURL(relayURL string) string {
	u := strings.TrimSuffix(strings.TrimRight(relayURL, "/"), "/relay")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

func parse(flags *pflag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, usageError(err.Error())
	}
	return true, nil
}
