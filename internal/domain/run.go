package domain

import "time"

// Run statuses
const (
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// Stage identifies where in the pipeline a step ran
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
	StageMirror    Stage = "mirror"
)

// Run represents one pipeline invocation
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"` // "ingest" or "etl"
	Sources    []Source   `json:"sources"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Steps      []*Step    `json:"steps,omitempty"`
}

// Step records one stage applied to one table within a run
type Step struct {
	RunID     string        `json:"run_id"`
	Stage     Stage         `json:"stage"`
	Table     string        `json:"table"`
	Rows      int64         `json:"rows"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}
