// Command lirashield analyzes a Turkish lira portfolio from the terminal.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"

	"lirashield/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp()
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	app.SetFlags(flag.CommandLine)
	app.Register(commander)
	flag.Parse()

	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
