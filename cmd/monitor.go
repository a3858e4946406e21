package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/desertthunder/rbxbridge/internal/ui"
	"github.com/urfave/cli/v3"
)

const defaultMonitorRefresh = 2 * time.Second

// Monitor opens the live terminal dashboard for the running bridge.
func (r *Runner) Monitor(ctx context.Context, cmd *cli.Command) error {
	logPath := cmd.String("log-file")
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(r.config.Database.Path), "monitor.log")
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(logPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	r.logger.Info("monitor started", "bridge", r.api.BaseURL())

	model := ui.NewModel(ctx, r.api, cmd.Duration("refresh"))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running monitor: %w", err)
	}

	return nil
}
