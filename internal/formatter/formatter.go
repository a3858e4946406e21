// Package formatter exports import history to CSV, Markdown and plain text.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// Kind selects an export format.
type Kind string

const (
	KindText     Kind = "text"
	KindCSV      Kind = "csv"
	KindMarkdown Kind = "md"
)

// ParseKind accepts the --format flag values, including a few common spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return KindText, nil
	case "csv":
		return KindCSV, nil
	case "md", "markdown":
		return KindMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// Extension is the file extension written for k.
func (k Kind) Extension() string {
	switch k {
	case KindCSV:
		return ".csv"
	case KindMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

const timeLayout = time.RFC3339

// Export renders ops in the given format.
func Export(kind Kind, ops []models.ImportOperation) ([]byte, error) {
	switch kind {
	case KindCSV:
		return ExportToCSV(ops)
	case KindMarkdown:
		return ExportToMarkdown(ops, "Import History")
	case KindText:
		return ExportToText(ops)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, kind)
	}
}

// ExportToCSV converts imports to CSV with columns: ID, Status, Name, Format, Source, Asset ID, Asset URL, Error Kind, Error, Created, Finished
func ExportToCSV(ops []models.ImportOperation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Status", "Name", "Format", "Source", "Asset ID", "Asset URL", "Error Kind", "Error", "Created", "Finished"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, op := range ops {
		record := []string{
			op.ID,
			op.Status.String(),
			op.DisplayName,
			string(op.Format),
			op.SourceURL,
			op.ResultAssetID,
			op.AssetURL,
			string(op.ErrorKind),
			op.ErrorDetail,
			op.CreatedAt.UTC().Format(timeLayout),
			finished(op),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts imports to a Markdown report with a summary and a table.
func ExportToMarkdown(ops []models.ImportOperation, title string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", title)

	succeeded, failed := tally(ops)
	fmt.Fprintf(&buf, "**Imports**: %d\n", len(ops))
	fmt.Fprintf(&buf, "**Succeeded**: %d\n", succeeded)
	fmt.Fprintf(&buf, "**Failed**: %d\n\n", failed)

	if len(ops) == 0 {
		return buf.Bytes(), nil
	}

	buf.WriteString("| Created | Name | Format | Status | Result |\n")
	buf.WriteString("|---|---|---|---|---|\n")
	for _, op := range ops {
		fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s |\n",
			op.CreatedAt.UTC().Format(timeLayout),
			escapeCell(op.DisplayName),
			op.Format,
			op.Status,
			escapeCell(result(op, true)),
		)
	}

	return buf.Bytes(), nil
}

// ExportToText converts imports to plain text, one line each.
func ExportToText(ops []models.ImportOperation) ([]byte, error) {
	var buf bytes.Buffer

	succeeded, failed := tally(ops)
	fmt.Fprintf(&buf, "Imports: %d (%d succeeded, %d failed)\n\n", len(ops), succeeded, failed)

	for i, op := range ops {
		fmt.Fprintf(&buf, "%d. [%s] %s (%s) %s\n", i+1, op.Status, op.DisplayName, op.Format, result(op, false))
	}

	return buf.Bytes(), nil
}

// WriteExport writes ops to path in the given format.
//
// Defaults to import_history{ext} as the filename.
func WriteExport(kind Kind, ops []models.ImportOperation, path string) (string, error) {
	if path == "" {
		path = "import_history" + kind.Extension()
	}

	data, err := Export(kind, ops)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}

func tally(ops []models.ImportOperation) (succeeded, failed int) {
	for _, op := range ops {
		switch op.Status {
		case models.StatusSucceeded:
			succeeded++
		case models.StatusFailed:
			failed++
		}
	}
	return succeeded, failed
}

func finished(op models.ImportOperation) string {
	if op.FinishedAt == nil {
		return ""
	}
	return op.FinishedAt.UTC().Format(timeLayout)
}

func result(op models.ImportOperation, link bool) string {
	switch op.Status {
	case models.StatusSucceeded:
		if link && op.AssetURL != "" {
			return fmt.Sprintf("[asset %s](%s)", op.ResultAssetID, op.AssetURL)
		}
		return "asset " + op.ResultAssetID
	case models.StatusFailed:
		return fmt.Sprintf("%s: %s", op.ErrorKind, op.ErrorDetail)
	default:
		return op.SourceURL
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
