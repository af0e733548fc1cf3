package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerline/depgraph/cmd/depgraph/commands"
	"github.com/ledgerline/depgraph/pkg/graph"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Replaced by the configured logger once a command starts.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err == nil {
		return
	}

	ev := log.Error().Err(err)
	var gerr *graph.GraphError
	if errors.As(err, &gerr) {
		ev = ev.Str("code", gerr.Code)
		if gerr.Node != "" {
			ev = ev.Str("node", gerr.Node)
		}
	}
	ev.Msg("Command failed")
	os.Exit(1)
}
