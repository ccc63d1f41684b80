// Command foreman is the operator CLI for the workflow orchestration
// engine: "foreman serve" wires and runs the engine plus its HTTP surface;
// every other subcommand is a thin client against a running server's
// control surface (the engine's in-memory workflow state is owned by
// whichever process called serve, per spec §6 — there is no local state to
// load outside that process).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:        "foreman",
		Usage:       "Workflow orchestration engine",
		Description: "Run 'foreman serve' to start the engine. Other subcommands drive a running server over HTTP.",
		Commands: []*cli.Command{
			serveCmd(),
			directiveCmd(),
			briefCmd(),
			workflowCmd(),
			approvalCmd(),
			artifactCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "server",
		Usage: "base URL of a running foreman serve instance",
		Value: "http://localhost:8080",
	}
}
