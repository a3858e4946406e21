package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// exitConflict is the exit status when another bridge owns the lock or port.
const exitConflict = 2

func main() {
	logger := shared.NewLogger(nil)
	app := newApp(NewRunner(RunnerOpts{Logger: logger}))

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrAlreadyRunning) {
			logger.Error("another bridge is already running; stop it or change bridge.port", "error", err)
			os.Exit(exitConflict)
		}
		logger.Fatalf("application error: %v", err)
	}
}

// newApp builds the root command. Without a subcommand it serves.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:     shared.AppName,
		Usage:    "Local bridge that imports 3D models from the web into Roblox",
		Version:  version,
		Flags:    globalFlags(),
		Action:   r.serveDefault,
		Commands: r.register(),
	}
}
