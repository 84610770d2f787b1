package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	StateReady      JobState = "ready"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Engine stages in execution order.
const (
	StageFetchSource    = "fetch-source"
	StageIngestAudio    = "ingest-audio"
	StageAssembleOutput = "assemble-output"
)

var Stages = []string{StageFetchSource, StageIngestAudio, StageAssembleOutput}

type JobRequest struct {
	SourceURL      string `json:"source_url" validate:"required,url"`
	AudioPath      string `json:"audio_path" validate:"required"`
	DestinationDir string `json:"destination_dir" validate:"required"`
}

type Result struct {
	OutputPath string        `json:"output_path"`
	ItemCount  int           `json:"item_count"`
	Elapsed    time.Duration `json:"elapsed"`
}

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindResourceLimit ErrorKind = "resource_limit_error"
	KindNetwork       ErrorKind = "network_error"
	KindEngine        ErrorKind = "engine_error"
	KindCancelled     ErrorKind = "cancelled_error"
	KindInternal      ErrorKind = "internal_error"
)

type JobError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Stage       string    `json:"stage,omitempty"`
}

type Job struct {
	ID              uuid.UUID  `json:"id"`
	State           JobState   `json:"state"`
	Stage           string     `json:"stage"`
	Progress        float64    `json:"progress"`
	Request         JobRequest `json:"request"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Result          *Result    `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand out to callers.
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		e.Suggestions = append([]string(nil), j.Error.Suggestions...)
		out.Error = &e
	}
	return out
}

// StageProgressSample is one progress signal emitted by an engine stage.
type StageProgressSample struct {
	Stage    string  `json:"stage"`
	Fraction float64 `json:"fraction"`
}
