package policy

import (
	"strings"
	"time"

	"github.com/cloudburst/vmmad/internal/domain"
)

// Threshold is the default Policy: a job is a cloud candidate if its name
// carries NamePrefix (or NamePrefix is empty, accepting everything); a new
// VM is wanted once the candidate backlog exceeds K times the number of VMs
// currently starting or ready; an idle VM may be stopped once it has carried
// no jobs for longer than MinIdle and is not EverRunning (a Simulator
// pre-existing cluster node is never a stop candidate).
//
// K=0 degenerates to "a new VM is wanted whenever any candidate is
// waiting".
type Threshold struct {
	NamePrefix string
	K          float64
	MinIdle    time.Duration
}

// NewThreshold returns a Threshold policy with the given tunables.
func NewThreshold(namePrefix string, k float64, minIdle time.Duration) *Threshold {
	return &Threshold{NamePrefix: namePrefix, K: k, MinIdle: minIdle}
}

func (t *Threshold) IsCloudCandidate(job *domain.Job) bool {
	if t.NamePrefix == "" {
		return true
	}
	return strings.HasPrefix(job.Name, t.NamePrefix)
}

func (t *Threshold) IsNewVmNeeded(candidates []*domain.Job, vmsAlive int) bool {
	// Candidates that have since begun running no longer need capacity;
	// count only the ones still waiting.
	waiting := 0
	for _, job := range candidates {
		if job.State == domain.JobPending {
			waiting++
		}
	}
	return float64(waiting) > t.K*float64(vmsAlive)
}

func (t *Threshold) CanVmBeStopped(vm *domain.Vm) bool {
	if vm.EverRunning {
		return false
	}
	if vm.State != domain.VmReady {
		return false
	}
	return vm.IsIdle() && vm.LastIdle > t.MinIdle
}
