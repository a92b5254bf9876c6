package orchestrator

import (
	"context"
	"time"

	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/logging"
)

// updateJobs takes a fresh BatchSystem snapshot, upserts it into the job
// table, computes terminations by set-difference against the previous
// table, propagates terminations to VM job sets and the candidate set, and
// grows the candidate set with newly-observed PENDING jobs the policy
// accepts.
func (o *Orchestrator) updateJobs(ctx context.Context, now time.Time) {
	jobs, err := o.batch.Snapshot(ctx)
	if err != nil {
		logging.Op().Error("batch system snapshot failed, retaining prior job table", "err", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	lastUpdate := o.lastUpdate
	currentIDs := make(map[string]struct{}, len(jobs))

	for _, job := range jobs {
		if err := job.CheckInvariants(); err != nil {
			logging.Op().Error("dropping invalid job record from snapshot", "err", err)
			continue
		}
		if _, seen := o.jobs[job.JobID]; !seen {
			logging.Op().Debug("new job observed", "job_id", job.JobID, "state", job.State)
			if !job.RunningAt.IsZero() && job.RunningAt.Before(lastUpdate) {
				logging.Op().Warn("job runningAt precedes last reconciliation", "job_id", job.JobID)
			}
		}
		currentIDs[job.JobID] = struct{}{}
		o.jobs[job.JobID] = job
	}

	var terminated []string
	for id, job := range o.jobs {
		if _, stillPresent := currentIDs[id]; stillPresent {
			continue
		}
		if job.IsRunning() {
			logging.Op().Info("job terminated", "job_id", id, "exec_node", job.ExecNodeName)
		}
		delete(o.candidates, id)
		terminated = append(terminated, id)
	}
	for _, id := range terminated {
		delete(o.jobs, id)
	}
	if len(terminated) > 0 {
		for _, vm := range o.vmsByNodename {
			for _, id := range terminated {
				delete(vm.Jobs, id)
			}
		}
	}

	for _, job := range jobs {
		switch job.State {
		case domain.JobRunning:
			// A running job can never again be a candidate, however stale its
			// runningAt; only the VM-assignment side is gated on recency. The
			// recency checks are inclusive: a timestamp landing exactly on
			// lastUpdate still counts as new.
			delete(o.candidates, job.JobID)
			if !job.RunningAt.Before(lastUpdate) {
				if vm, ok := o.vmsByNodename[job.ExecNodeName]; ok {
					vm.AddJob(job.JobID)
				}
			}
		case domain.JobPending:
			if !job.SubmittedAt.Before(lastUpdate) && o.policy.IsCloudCandidate(job) {
				o.candidates[job.JobID] = job
			}
		}
	}

	o.lastUpdate = now
}

func (o *Orchestrator) candidateSliceLocked() []*domain.Job {
	out := make([]*domain.Job, 0, len(o.candidates))
	for _, job := range o.candidates {
		out = append(out, job)
	}
	return out
}
