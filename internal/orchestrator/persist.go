package orchestrator

import (
	"time"

	"github.com/cloudburst/vmmad/internal/checkpoint"
	"github.com/cloudburst/vmmad/internal/domain"
)

// Snapshot exports the orchestrator's current state as a checkpoint.Snapshot
// suitable for persisting via a checkpoint.Store.
func (o *Orchestrator) Snapshot() checkpoint.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := checkpoint.Snapshot{
		Cycle:    o.cycle,
		SavedAt:  o.now(),
		NextVmID: o.nextVmID,
	}
	for _, vm := range o.vms {
		jobIDs := make([]string, 0, len(vm.Jobs))
		for id := range vm.Jobs {
			jobIDs = append(jobIDs, id)
		}
		snap.Vms = append(snap.Vms, checkpoint.VmRecord{
			VmID:        vm.VmID,
			Auth:        vm.Auth,
			State:       string(vm.State),
			Nodename:    vm.Nodename,
			Jobs:        jobIDs,
			RunningTime: vm.RunningTime.Seconds(),
			TotalIdle:   vm.TotalIdle.Seconds(),
		})
	}
	for _, job := range o.jobs {
		snap.Jobs = append(snap.Jobs, checkpoint.JobRecord{
			JobID:        job.JobID,
			State:        string(job.State),
			Name:         job.Name,
			ExecNodeName: job.ExecNodeName,
			Duration:     job.Duration,
		})
	}
	return snap
}

// Restore seeds orchestrator state from a previously-saved checkpoint. It
// must be called before Run/Step starts; VMs and jobs are restored as given,
// and the monotonic VM ID counter resumes from the snapshot's saved counter
// when that is ahead of the current one (the IDs of the restored VMs
// themselves are not inspected). A restored VM's runningTime
// and totalIdle counters are only as fresh as the last checkpoint write;
// the checkpoint is a best-effort snapshot, not a durable log.
func (o *Orchestrator) Restore(snap checkpoint.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cycle = snap.Cycle
	if snap.NextVmID > o.nextVmID {
		o.nextVmID = snap.NextVmID
	}

	for _, rec := range snap.Vms {
		vm := &domain.Vm{
			VmID:     rec.VmID,
			Auth:     rec.Auth,
			State:    domain.VmState(rec.State),
			Nodename: rec.Nodename,
			Jobs:     make(map[string]struct{}, len(rec.Jobs)),

			RunningTime: time.Duration(rec.RunningTime * float64(time.Second)),
			TotalIdle:   time.Duration(rec.TotalIdle * float64(time.Second)),
		}
		for _, id := range rec.Jobs {
			vm.Jobs[id] = struct{}{}
		}
		o.vms[vm.VmID] = vm
		if vm.State == domain.VmStarting && vm.Auth != "" {
			o.pendingAuth[vm.Auth] = vm
		}
		if vm.Nodename != "" && (vm.State == domain.VmReady || vm.State == domain.VmDraining) {
			o.vmsByNodename[vm.Nodename] = vm
		}
	}

	for _, rec := range snap.Jobs {
		o.jobs[rec.JobID] = &domain.Job{
			JobID:        rec.JobID,
			State:        domain.JobState(rec.State),
			Name:         rec.Name,
			ExecNodeName: rec.ExecNodeName,
			Duration:     rec.Duration,
		}
	}
}
