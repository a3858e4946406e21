package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/rbxbridge/internal/models"
)

var _ list.Item = importItem{}

// importItem wraps [models.ImportOperation] to implement [list.Item].
type importItem struct {
	op  models.ImportOperation
	now time.Time
}

func (i importItem) FilterValue() string { return i.op.DisplayName }
func (i importItem) Title() string {
	return fmt.Sprintf("%s  %s", styles.ForStatus(i.op.Status).Render(i.op.Status.String()), i.op.DisplayName)
}
func (i importItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.op.Format, i.op.Duration(i.now).Round(time.Second))
	switch i.op.Status {
	case models.StatusSucceeded:
		desc = fmt.Sprintf("%s • asset %s", desc, i.op.ResultAssetID)
	case models.StatusFailed:
		desc = fmt.Sprintf("%s • %s", desc, i.op.ErrorKind)
	}
	return desc
}

func importItems(ops []models.ImportOperation, now time.Time) []list.Item {
	items := make([]list.Item, len(ops))
	for i, op := range ops {
		items[i] = importItem{op: op, now: now}
	}
	return items
}
