package model

import "time"

// Phase names one long-running pass of the engine.
type Phase string

const (
	PhaseInstall Phase = "install"
	PhaseResolve Phase = "resolve"
	PhaseMerge   Phase = "merge"
)

type OperationStatus string

const (
	StatusPending OperationStatus = "PENDING"
	StatusRunning OperationStatus = "RUNNING"
	StatusDone    OperationStatus = "DONE"
	StatusError   OperationStatus = "ERROR"
)

// Operation is the per-workspace, per-phase progress record. Done and Total
// advance monotonically via atomic store increments; an external progress UI
// consumes them.
type Operation struct {
	WorkspaceID string          `json:"workspace_id"`
	Phase       Phase           `json:"phase"`
	Status      OperationStatus `json:"status"`
	Done        int             `json:"done"`
	Total       int             `json:"total"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
