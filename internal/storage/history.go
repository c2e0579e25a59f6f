package storage

import (
	"time"

	"syncq/internal/report"
	"syncq/internal/runner"
)

// HistoryItem is one finished run as kept in the history store.
type HistoryItem struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Config    runner.Config  `json:"config"`
	Summary   report.Summary `json:"summary"`
}

// NewHistoryItem keys the item by the summary's run id.
func NewHistoryItem(res *runner.Result, s report.Summary) HistoryItem {
	return HistoryItem{
		ID:        s.RunID,
		Timestamp: res.Started,
		Config:    res.Config,
		Summary:   s,
	}
}
