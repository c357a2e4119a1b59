package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/pluginbridge/internal/status"
)

func runRooms(ctx context.Context, args []string) error {
	var c common
	flags := pflag.NewFlagSet("rooms", pflag.ContinueOnError)
	c.register(flags)
	if ok, err := parse(flags, args); !ok {
		return err
	}

	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	_, httpURL := c.endpoints(cfg)
	state, err := status.New(status.DefaultConfig(httpURL), logger).Rooms(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(state.Rooms))
	for name := range state.Rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tMEMBERS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, len(state.Rooms[name]))
	}
	fmt.Fprintf(w, "total\t%d\n", state.Total)
	return w.Flush()
}
