package orchestrator

import (
	"sort"

	"github.com/cloudburst/vmmad/internal/domain"
)

// VmView is a read-only copy of a managed VM, safe to hand to the web
// surface or tests without exposing the live pointer.
type VmView struct {
	VmID     string
	Auth     string
	State    domain.VmState
	Nodename string
	Jobs     int
}

// Status is a point-in-time snapshot of orchestrator bookkeeping, used by
// the web surface's status page and by metrics/tests.
type Status struct {
	Cycle      int
	Vms        []VmView
	JobCount   int
	Candidates int
}

// Status returns a consistent snapshot of the orchestrator's state, sorted
// by VmID for stable rendering.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	vms := make([]VmView, 0, len(o.vms))
	for _, vm := range o.vms {
		vms = append(vms, VmView{
			VmID:     vm.VmID,
			Auth:     vm.Auth,
			State:    vm.State,
			Nodename: vm.Nodename,
			Jobs:     len(vm.Jobs),
		})
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].VmID < vms[j].VmID })

	return Status{
		Cycle:      o.cycle,
		Vms:        vms,
		JobCount:   len(o.jobs),
		Candidates: len(o.candidates),
	}
}

// InjectVm registers vm directly into the managed table, bypassing newVm's
// ID/auth minting. Used by the Simulator to seed ever-running cluster nodes
// that the reconciliation loop itself never decided to start.
func (o *Orchestrator) InjectVm(vm *domain.Vm) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vms[vm.VmID] = vm
	if vm.State == domain.VmReady && vm.Nodename != "" {
		o.vmsByNodename[vm.Nodename] = vm
	}
}

// Vms returns the live, mutable Vm pointers currently tracked. Used by the
// Simulator to assign jobs to idle VMs and by tests asserting on state.
// Callers must not retain these beyond the current cycle without care: they
// alias the orchestrator's own bookkeeping.
func (o *Orchestrator) Vms() []*domain.Vm {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Vm, 0, len(o.vms))
	for _, vm := range o.vms {
		out = append(out, vm)
	}
	return out
}

// Jobs returns the live, mutable Job pointers currently tracked, for the
// same reasons as Vms.
func (o *Orchestrator) Jobs() []*domain.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job)
	}
	return out
}
