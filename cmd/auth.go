package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/rbxbridge/internal/services"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// Status reports whether the bridge is running and which account it holds.
//
// A bridge that cannot be reached is reported, not returned as an error.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	status, err := r.api.Status(ctx)
	if errors.Is(err, shared.ErrServiceUnavailable) {
		r.logger.Debug("bridge unreachable", "url", r.api.BaseURL(), "error", err)
		status = &services.StatusResponse{Running: false, Status: "stopped"}
	} else if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	if !status.Running {
		r.writePlain("✗ Bridge is not running at %s\n", r.api.BaseURL())
		return r.writePlain("Start it with '%s serve'\n", shared.AppName)
	}

	r.writePlain("✓ Bridge %s is running at %s\n", status.Version, r.api.BaseURL())
	if status.Connected && status.UserInfo != nil {
		return r.writePlain("Account: ✓ Connected as %s (user %s)\n", status.UserInfo.Name(), status.UserInfo.UserID)
	}
	if status.Connected {
		return r.writePlain("Account: ✓ Connected\n")
	}
	return r.writePlain("Account: ✗ Not connected (run '%s connect')\n", shared.AppName)
}

// Connect asks the bridge to start authorization and shows the URL when no browser was opened.
func (r *Runner) Connect(ctx context.Context, cmd *cli.Command) error {
	out, err := r.api.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to start authorization: %w", err)
	}

	if out.Opened {
		r.writePlain("✓ Opened your browser to authorize with Roblox\n")
	} else {
		r.writePlain("Open this URL to authorize with Roblox:\n\n  %s\n\n", out.AuthURL)
	}
	return r.writePlain("Run '%s status' after approving access.\n", shared.AppName)
}

// Disconnect revokes and deletes the bridge's stored credentials.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	if err := r.api.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return r.writePlain("✓ Disconnected\n")
}
