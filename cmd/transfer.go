package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/sethvargo/go-retry"
	"github.com/urfave/cli/v3"
)

const defaultWaitInterval = time.Second

var errStillRunning = errors.New("import still running")

// Import submits a model URL to the running bridge, optionally waiting for the outcome.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	req := models.ImportRequest{
		SourceURL:   cmd.StringArg("url"),
		DisplayName: cmd.String("name"),
		Description: cmd.String("description"),
	}
	if req.SourceURL == "" {
		return fmt.Errorf("%w: model url is required", shared.ErrMissingArgument)
	}
	if f := cmd.String("format"); f != "" {
		format, err := models.ParseFormat(f)
		if err != nil {
			return err
		}
		req.Format = format
	}

	r.logger.Debug("submitting import", "source", req.SourceURL, "format", req.Format)

	accepted, err := r.api.StartImport(ctx, req)
	if err != nil {
		return err
	}
	r.writePlain("✓ Import %s accepted\n", accepted.OperationID)

	if !cmd.Bool("wait") {
		return r.writePlain("Check progress with '%s api get /import/%s'\n", shared.AppName, accepted.OperationID)
	}

	op, err := r.waitForImport(ctx, accepted.OperationID, cmd.Duration("interval"))
	if err != nil {
		return err
	}
	return r.writeOutcome(op)
}

// waitForImport polls the bridge until the import reaches a terminal status.
func (r *Runner) waitForImport(ctx context.Context, id string, interval time.Duration) (*models.ImportOperation, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}

	var (
		op   *models.ImportOperation
		last = models.StatusPending
	)
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		current, err := r.api.ImportStatus(ctx, id)
		if err != nil {
			return err
		}
		op = current
		if op.Status != last {
			last = op.Status
			r.writePlain("  … %s\n", op.Status)
		}
		if !op.Status.Terminal() {
			return retry.RetryableError(errStillRunning)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed waiting for import %s: %w", id, err)
	}
	return op, nil
}

func (r *Runner) writeOutcome(op *models.ImportOperation) error {
	r.writePlainln("")
	r.writePlainHeader("Import " + op.Status.String())
	r.writePlain("Name: %s\n", op.DisplayName)
	r.writePlain("Format: %s\n", op.Format)
	r.writePlain("Source: %s\n", op.SourceURL)

	if op.Status == models.StatusFailed {
		r.writePlain("Error: %s\n", op.ErrorDetail)
		return fmt.Errorf("import %s failed (%s)", op.ID, op.ErrorKind)
	}

	r.writePlain("Asset ID: %s\n", op.ResultAssetID)
	if op.AssetURL != "" {
		r.writePlain("Asset URL: %s\n", op.AssetURL)
	}
	return nil
}
