package main

import (
	"context"

	"github.com/desertthunder/rbxbridge/internal/formatter"
	"github.com/urfave/cli/v3"
)

// History prints or exports persisted imports from the running bridge.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	kind, err := formatter.ParseKind(cmd.String("format"))
	if err != nil {
		return err
	}

	ops, err := r.api.History(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteExport(kind, ops, path)
		if err != nil {
			return err
		}
		r.logger.Info("history exported", "path", written, "imports", len(ops))
		return r.writePlain("✓ Exported %d imports to %s\n", len(ops), written)
	}

	data, err := formatter.Export(kind, ops)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}
