package automation

import (
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Status is one state of the per-execution state machine spec §4.8 draws:
// PENDING → RUNNING → (SUCCEEDED | FAILED | TIMED_OUT | CHAIN_EXCEEDED), with
// a bounded RETRYING → RUNNING loop in between.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusRetrying      Status = "retrying"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusTimedOut      Status = "timed_out"
	StatusChainExceeded Status = "chain_exceeded"
)

// terminal reports whether s is one of the four terminal states execution
// writes its record for.
func (s Status) terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusChainExceeded:
		return true
	default:
		return false
	}
}

// Record is the terminal execution history record persisted to
// automations/executions/<automation_id>_<ts>.json (spec §4.8 step 5).
type Record struct {
	AutomationID       string         `json:"automation_id"`
	ChainDepth         int            `json:"chain_depth"`
	ParentAutomationID string         `json:"parent_automation_id,omitempty"`
	Status             Status         `json:"status"`
	Error              string         `json:"error,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	DurationMS         int64          `json:"duration_ms"`
	History            []string       `json:"execution_history,omitempty"`
	Variables          map[string]any `json:"variables,omitempty"`
}

func newRecord(ec *ExecutionContext, status Status, execErr error) Record {
	finished := time.Now().UTC()
	r := Record{
		AutomationID:       ec.AutomationID,
		ChainDepth:         ec.ChainDepth,
		ParentAutomationID: ec.ParentAutomationID,
		Status:             status,
		StartedAt:          ec.StartTime,
		FinishedAt:         finished,
		DurationMS:         finished.Sub(ec.StartTime).Milliseconds(),
		History:            ec.ExecutionHistory,
		Variables:          ec.Variables,
	}
	if execErr != nil {
		r.Error = execErr.Error()
	}
	return r
}

func persistRecord(records *store.JSONStore[Record], root tenantpath.Root, r Record) error {
	ts := r.FinishedAt.Format("20060102T150405.000000000")
	return records.Write(root.ExecutionFile(r.AutomationID, ts), r)
}
