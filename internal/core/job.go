package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type JobKind string

const (
	JobProvision JobKind = "provision"
	JobDestroy   JobKind = "destroy"
	JobAppDeploy JobKind = "app_deploy"
)

// JobKinds lists every kind in a stable order.
var JobKinds = []JobKind{JobProvision, JobDestroy, JobAppDeploy}

func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobProvision, JobDestroy, JobAppDeploy:
		return JobKind(s), nil
	}
	return "", NewAppError(ErrInvalidInput, fmt.Sprintf("unknown job kind %q", s))
}

// JobStatus is the status string reported by the backend.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether status ends a job of this kind. Infrastructure
// jobs finish with completed/failed, application deploys with success/failed.
func (k JobKind) Terminal(status JobStatus) bool {
	if status == JobStatusFailed {
		return true
	}
	switch k {
	case JobAppDeploy:
		return status == JobStatusSuccess
	default:
		return status == JobStatusCompleted
	}
}

// Succeeded reports whether status is the success terminal for this kind.
func (k JobKind) Succeeded(status JobStatus) bool {
	return k.Terminal(status) && status != JobStatusFailed
}

// JobID is an opaque job identifier. The backend sends it either as a
// string or as a number.
type JobID string

func (id *JobID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = JobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	*id = JobID(n.String())
	return nil
}

func (id JobID) String() string { return string(id) }

// IsNumeric reports whether the id was issued as a number.
func (id JobID) IsNumeric() bool {
	_, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil
}

type LogEntry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// JobStatusResponse is the payload of every job status endpoint.
type JobStatusResponse struct {
	Status JobStatus  `json:"status"`
	Logs   []LogEntry `json:"logs"`
	Error  string     `json:"error,omitempty"`
}

// JobRef is returned by every start-operation endpoint.
type JobRef struct {
	JobID   JobID  `json:"jobId"`
	Message string `json:"message,omitempty"`
}

// Phase is the local lifecycle of a poll, independent of the status
// vocabulary of any particular endpoint.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCanceled  Phase = "canceled"
)

func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseCanceled:
		return true
	}
	return false
}

// PhaseFor maps a backend status onto the local phase for kind.
func PhaseFor(kind JobKind, status JobStatus) Phase {
	switch {
	case status == JobStatusFailed:
		return PhaseFailed
	case kind.Succeeded(status):
		return PhaseSucceeded
	case status == "" || status == JobStatusIdle:
		return PhaseIdle
	default:
		return PhaseRunning
	}
}

// JobSnapshot is what a poller knows about a job after a tick.
type JobSnapshot struct {
	Kind      JobKind    `json:"kind"`
	JobID     JobID      `json:"job_id"`
	Phase     Phase      `json:"phase"`
	Status    JobStatus  `json:"status"`
	Logs      []LogEntry `json:"logs"`
	Ticks     int        `json:"ticks"`
	UpdatedAt time.Time  `json:"updated_at"`
}
