// Package domain holds the typed records the orchestrator operates on: the
// batch job as reported by the batch system, and the VM the orchestrator
// itself provisions and retires.
package domain

import "time"

// JobState is the lifecycle state of a job as reported by the batch system.
type JobState string

const (
	JobPending  JobState = "PENDING"
	JobRunning  JobState = "RUNNING"
	JobFinished JobState = "FINISHED"
	JobOther    JobState = "OTHER"
)

// IsValid reports whether s is one of the defined job states.
func (s JobState) IsValid() bool {
	switch s {
	case JobPending, JobRunning, JobFinished, JobOther:
		return true
	}
	return false
}

// Job records a single batch-system job. RUNNING jobs must carry a non-empty
// ExecNodeName; this is asserted by CheckInvariants rather than by the
// constructor, since jobs are decoded off the wire (batch system snapshots,
// CSV trace rows) where a malformed record should be logged and skipped
// rather than panic.
type Job struct {
	JobID        string    `json:"job_id"`
	State        JobState  `json:"state"`
	Name         string    `json:"name,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
	RunningAt    time.Time `json:"running_at,omitempty"`
	ExecNodeName string    `json:"exec_node_name,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
}

// CheckInvariants verifies the Job entity invariants. It returns a
// non-nil error describing the first violation found; callers decide whether
// that is fatal (development builds) or merely logged (production builds).
func (j *Job) CheckInvariants() error {
	if j.JobID == "" {
		return errInvariant("job has empty JobID")
	}
	if !j.State.IsValid() {
		return errInvariant("job " + j.JobID + " has unknown state " + string(j.State))
	}
	if j.State == JobRunning && j.ExecNodeName == "" {
		return errInvariant("job " + j.JobID + " is RUNNING but has no ExecNodeName")
	}
	if j.State == JobPending && j.ExecNodeName != "" {
		return errInvariant("job " + j.JobID + " is PENDING but has an ExecNodeName set")
	}
	return nil
}

// IsRunning reports whether the job is in the RUNNING state.
func (j *Job) IsRunning() bool { return j.State == JobRunning }

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
