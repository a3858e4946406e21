package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/services"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/sethvargo/go-retry"
)

const historyTimeout = 5 * time.Second

var errNotDone = errors.New("platform operation not done")

// job is the mutable state of one run.
type job struct {
	id     string
	req    models.ImportRequest
	temps  []string
	file   string
	format models.Format
}

func (j *job) track(p string) {
	if p != "" {
		j.temps = append(j.temps, p)
	}
}

func (j *job) cleanup() []string {
	var failed []string
	for _, p := range j.temps {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed = append(failed, p)
		}
	}
	return failed
}

// run drives one import to a terminal status. Temp files are removed on every exit path.
func (im *Importer) run(ctx context.Context, id string, req models.ImportRequest) {
	j := &job{id: id, req: req, format: req.Format}
	logger := im.logger.With("id", id)

	defer func() {
		if failed := j.cleanup(); len(failed) > 0 {
			logger.Warn("failed to remove temp files", "paths", failed)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("import run panicked", "panic", r)
			im.fail(id, models.ErrorKindUpload, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := im.download(ctx, j); err != nil {
		im.failWith(id, err)
		return
	}

	op, err := im.upload(ctx, j)
	if err != nil {
		im.failWith(id, err)
		return
	}

	if !op.Done {
		op, err = im.poll(ctx, j, op.ID())
		if err != nil {
			im.failWith(id, err)
			return
		}
	}

	im.finish(j, op)
}

func (im *Importer) download(ctx context.Context, j *job) error {
	if _, err := im.registry.Transition(j.id, models.StatusDownloading, nil); err != nil {
		return err
	}
	im.sendProgress(downloadingUpdate(j.id, j.req.SourceURL))

	dctx, cancel := context.WithTimeout(ctx, im.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, j.req.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}

	resp, err := im.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: source returned status %d", shared.ErrDownloadFailed, resp.StatusCode)
	}
	limit := im.cfg.MaxDownloadBytes
	if resp.ContentLength > limit {
		return fmt.Errorf("%w: source is %d bytes, limit is %d", shared.ErrDownloadFailed, resp.ContentLength, limit)
	}

	f, err := os.CreateTemp(im.cfg.TempDir, "rbxbridge-*.download")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", shared.ErrDownloadFailed, err)
	}
	j.track(f.Name())

	n, err := io.Copy(f, io.LimitReader(resp.Body, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	case n > limit:
		return fmt.Errorf("%w: source exceeds %d bytes", shared.ErrDownloadFailed, limit)
	case n == 0:
		return fmt.Errorf("%w: source is empty", shared.ErrDownloadFailed)
	}
	j.file = f.Name()
	im.sendProgress(downloadedUpdate(j.id, n))

	zipped, err := isZip(j.file)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDownloadFailed, err)
	}
	if !zipped {
		return nil
	}

	extracted, entry, format, err := extractModel(j.file, im.cfg.TempDir, j.format, limit)
	j.track(extracted)
	if err != nil {
		return err
	}
	j.file, j.format = extracted, format
	im.sendProgress(extractedUpdate(j.id, entry))
	return nil
}

func (im *Importer) upload(ctx context.Context, j *job) (*services.Operation, error) {
	if _, err := im.registry.Transition(j.id, models.StatusUploading, func(op *models.ImportOperation) {
		op.Format = j.format
	}); err != nil {
		return nil, err
	}

	ts, err := im.tokens.EnsureFreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if ts.User.UserID == "" {
		return nil, fmt.Errorf("%w: account user id unknown", shared.ErrNotConnected)
	}
	im.sendProgress(uploadingUpdate(j.id, j.format))

	f, err := os.Open(j.file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUploadFailed, err)
	}
	defer f.Close()

	uctx, cancel := context.WithTimeout(ctx, im.cfg.UploadTimeout)
	defer cancel()

	return im.platform.CreateAsset(uctx, ts.AccessToken, services.AssetUpload{
		DisplayName:   j.req.DisplayName,
		Description:   j.req.Description,
		CreatorUserID: ts.User.UserID,
		Format:        j.format,
		File:          f,
	})
}

// poll waits for the platform operation to finish.
//
// "Not done", transport errors and non-2xx responses are retried until the poll timeout.
func (im *Importer) poll(ctx context.Context, j *job, platformID string) (*services.Operation, error) {
	if platformID == "" {
		return nil, fmt.Errorf("%w: platform returned no operation id", shared.ErrUploadFailed)
	}
	if _, err := im.registry.Transition(j.id, models.StatusProcessing, func(op *models.ImportOperation) {
		op.PlatformOperationID = platformID
	}); err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, im.cfg.PollTimeout)
	defer cancel()
	backoff := retry.WithMaxDuration(im.cfg.PollTimeout, retry.NewConstant(im.cfg.PollInterval))

	var result *services.Operation
	attempt := 0
	err := retry.Do(pctx, backoff, func(ctx context.Context) error {
		attempt++
		im.sendProgress(pollUpdate(j.id, attempt, platformID))

		ts, err := im.tokens.EnsureFreshToken(ctx)
		if err != nil {
			return err
		}

		op, err := im.platform.GetOperation(ctx, ts.AccessToken, platformID)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			im.logger.Debug("transient poll error", "id", j.id, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if !op.Done && op.Error == nil {
			return retry.RetryableError(errNotDone)
		}
		result = op
		return nil
	})

	switch {
	case err == nil:
		return result, nil
	case shared.IsAuthError(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: import cancelled during shutdown", shared.ErrPlatformTimeout)
	default:
		return nil, fmt.Errorf("%w: no result after %s (%d polls, last: %v)", shared.ErrPlatformTimeout, im.cfg.PollTimeout, attempt, err)
	}
}

// finish records the outcome of a done platform operation.
func (im *Importer) finish(j *job, op *services.Operation) {
	if op.Error != nil {
		im.failWith(j.id, fmt.Errorf("%w: %v", shared.ErrPlatformReportedFailure, op.Error))
		return
	}
	assetID := op.AssetID()
	if assetID == "" {
		im.failWith(j.id, fmt.Errorf("%w: operation finished without an asset id", shared.ErrPlatformReportedFailure))
		return
	}

	snapshot, err := im.registry.Transition(j.id, models.StatusSucceeded, func(o *models.ImportOperation) {
		if o.PlatformOperationID == "" {
			o.PlatformOperationID = op.ID()
		}
		o.ResultAssetID = assetID
		o.AssetURL = im.platform.AssetURL(assetID)
	})
	if err != nil {
		im.logger.Error("failed to record success", "id", j.id, "error", err)
		return
	}

	im.logger.Info("import succeeded", "id", j.id, "asset_id", assetID, "took", snapshot.Duration(time.Now()).Round(time.Millisecond))
	im.sendProgress(completedUpdate(snapshot))
	im.record(snapshot)
}

// kindOf classifies a run error for the caller.
func kindOf(err error) models.ErrorKind {
	switch {
	case shared.IsAuthError(err):
		return models.ErrorKindAuth
	case errors.Is(err, shared.ErrDownloadFailed):
		return models.ErrorKindDownload
	case errors.Is(err, shared.ErrPlatformTimeout):
		return models.ErrorKindPlatformTimeout
	case errors.Is(err, shared.ErrPlatformReportedFailure):
		return models.ErrorKindPlatformFailure
	default:
		return models.ErrorKindUpload
	}
}

func (im *Importer) failWith(id string, err error) {
	kind := kindOf(err)
	detail := err.Error()
	if kind == models.ErrorKindAuth {
		detail = "reconnect your account: " + detail
	}
	im.fail(id, kind, detail)
}

func (im *Importer) fail(id string, kind models.ErrorKind, detail string) {
	snapshot, err := im.registry.Transition(id, models.StatusFailed, func(op *models.ImportOperation) {
		op.SetFailure(kind, detail)
	})
	if err != nil {
		im.logger.Debug("failure not recorded", "id", id, "error", err)
		return
	}

	im.logger.Warn("import failed", "id", id, "kind", kind, "error", detail)
	im.sendProgress(failedUpdate(snapshot))
	im.record(snapshot)
}

func (im *Importer) record(op models.ImportOperation) {
	if im.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := im.history.Record(ctx, op); err != nil {
		im.logger.Warn("failed to record import history", "id", op.ID, "error", err)
	}
}
