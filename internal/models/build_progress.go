package models

import "time"

// ProgressType represents the type of pipeline progress event
type ProgressType string

const (
	ProgressStepStart    ProgressType = "step_start"
	ProgressStepDone     ProgressType = "step_done"
	ProgressStepWarning  ProgressType = "step_warning"
	ProgressStepFailed   ProgressType = "step_failed"
	ProgressPipelineDone ProgressType = "pipeline_done"
)

// Progress represents a progress update emitted while the pipeline runs
type Progress struct {
	Type     ProgressType
	Step     Step
	Message  string
	Duration time.Duration
	Error    error // set for ProgressStepWarning and ProgressStepFailed
}
