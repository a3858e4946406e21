package tasks

import (
	"fmt"

	"github.com/desertthunder/rbxbridge/internal/models"
)

// ProgressUpdate represents a progress event during an import run.
//
// Sent to the CLI or UI layer for display; delivery is best-effort.
type ProgressUpdate struct {
	OperationID string // Import the update belongs to
	Phase       Phase  // Pipeline phase
	Step        int    // Current step number within phase
	Total       int    // Total steps in this phase, 0 when unknown
	Message     string // Human-readable message for display
	Data        any    // Optional phase-specific data
}

// Import pipeline phase enumeration
type Phase int

const (
	Download Phase = iota
	Extract
	Upload
	Poll
	Complete
	Failed
)

func (p Phase) String() string {
	switch p {
	case Download:
		return "download"
	case Extract:
		return "extract"
	case Upload:
		return "upload"
	case Poll:
		return "poll"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

func downloadingUpdate(id, source string) ProgressUpdate {
	return ProgressUpdate{
		OperationID: id,
		Phase:       Download,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("Downloading %s...", source),
	}
}

func downloadedUpdate(id string, size int64) ProgressUpdate {
	return ProgressUpdate{
		OperationID: id,
		Phase:       Download,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("Downloaded %d bytes", size),
		Data:        size,
	}
}

func extractedUpdate(id, entry string) ProgressUpdate {
	return ProgressUpdate{
		OperationID: id,
		Phase:       Extract,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("Extracted %s from archive", entry),
	}
}

func uploadingUpdate(id string, format models.Format) ProgressUpdate {
	return ProgressUpdate{
		OperationID: id,
		Phase:       Upload,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("Uploading %s model...", format),
	}
}

func pollUpdate(id string, attempt int, platformID string) ProgressUpdate {
	return ProgressUpdate{
		OperationID: id,
		Phase:       Poll,
		Step:        attempt,
		Message:     fmt.Sprintf("[%d] Waiting for platform operation %s...", attempt, platformID),
	}
}

func completedUpdate(op models.ImportOperation) ProgressUpdate {
	return ProgressUpdate{
		OperationID: op.ID,
		Phase:       Complete,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("✓ %s created as asset %s", op.DisplayName, op.ResultAssetID),
		Data:        op,
	}
}

func failedUpdate(op models.ImportOperation) ProgressUpdate {
	return ProgressUpdate{
		OperationID: op.ID,
		Phase:       Failed,
		Step:        1,
		Total:       1,
		Message:     fmt.Sprintf("✗ %s (%s): %s", op.DisplayName, op.ErrorKind, op.ErrorDetail),
		Data:        op,
	}
}
