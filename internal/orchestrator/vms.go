package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudburst/vmmad/internal/audit"
	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/logging"
	"github.com/cloudburst/vmmad/internal/metrics"
)

// refreshVms calls NodeProvider.Refresh over a snapshot of live VMs. A VM
// still in STARTING that the provider now reports READY is held back at
// STARTING: the authenticated ready callback, not the provider's view, is
// authoritative for service-level readiness. Refresh failure keeps prior
// state and is retried next cycle.
func (o *Orchestrator) refreshVms(ctx context.Context) {
	o.mu.Lock()
	vms := make([]*domain.Vm, 0, len(o.vms))
	wasStarting := make(map[string]bool, len(o.vms))
	for id, vm := range o.vms {
		vms = append(vms, vm)
		wasStarting[id] = vm.State == domain.VmStarting
	}
	o.mu.Unlock()

	if len(vms) == 0 {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, o.cfg.Delay)
	defer cancel()

	if err := o.provider.Refresh(refreshCtx, vms); err != nil {
		logging.Op().Error("provider refresh failed, retaining prior vm state", "err", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, vm := range vms {
		if wasStarting[vm.VmID] && vm.State == domain.VmReady {
			vm.State = domain.VmStarting
		}
	}
}

// reconcileVms garbage-collects DOWN VMs, dispatches a stop for any VM that
// has overrun vmStartTimeout while STARTING, re-dispatches the stop for any
// VM still in STOPPING, accrues runningTime for VMs doing useful or billable
// work, and accrues/resets the idle counters.
func (o *Orchestrator) reconcileVms(ctx context.Context, elapsed time.Duration, now time.Time) {
	o.mu.Lock()
	var timedOut, stopRetries []*domain.Vm
	for id, vm := range o.vms {
		switch vm.State {
		case domain.VmDown:
			delete(o.vms, id)
			delete(o.pendingAuth, vm.Auth)
			if vm.Nodename != "" && o.vmsByNodename[vm.Nodename] == vm {
				delete(o.vmsByNodename, vm.Nodename)
			}
			continue
		case domain.VmStarting:
			if !vm.StartedAt.IsZero() && now.Sub(vm.StartedAt) > o.cfg.VmStartTimeout {
				timedOut = append(timedOut, vm)
			}
		case domain.VmReady, domain.VmOther:
			vm.RunningTime += elapsed
		case domain.VmStopping:
			vm.RunningTime += elapsed
			stopRetries = append(stopRetries, vm)
		}

		if vm.IsIdle() {
			vm.TotalIdle += elapsed
			vm.LastIdle += elapsed
		} else {
			vm.LastIdle = 0
		}
	}
	o.mu.Unlock()

	for _, vm := range timedOut {
		logging.Op().Warn("vm exceeded start timeout, stopping", "vm_id", vm.VmID, "timeout", o.cfg.VmStartTimeout)
		o.mu.Lock()
		vm.State = domain.VmStopping
		delete(o.pendingAuth, vm.Auth)
		o.mu.Unlock()
		o.Audit.Record(ctx, audit.Event{VmID: vm.VmID, Kind: "start_timeout", Timestamp: now})
		o.dispatchStop(ctx, vm)
	}

	for _, vm := range stopRetries {
		logging.Op().Warn("vm still STOPPING, retrying stop", "vm_id", vm.VmID)
		o.dispatchStop(ctx, vm)
	}
}

// startNewVms grows the pool. Up to maxDelta times per cycle it re-checks
// policy.IsNewVmNeeded and the maxVms bound, stopping at the first failure. A newly-decided VM is counted against maxVms from the moment of
// the decision (inserted into vms synchronously, before the async startVm
// call returns) so that overshoot across cycles is bounded by maxDelta
// rather than by how many async starts are in flight.
func (o *Orchestrator) startNewVms(ctx context.Context) {
	for i := 0; i < o.cfg.MaxDelta; i++ {
		o.mu.Lock()
		candidates := o.candidateSliceLocked()
		alive := 0
		for _, vm := range o.vms {
			if vm.IsAlive() {
				alive++
			}
		}
		needed := o.policy.IsNewVmNeeded(candidates, alive)
		atCapacity := len(o.vms) >= o.cfg.MaxVms
		o.mu.Unlock()

		if !needed || atCapacity {
			break
		}

		vm, err := o.newVm()
		if err != nil {
			logging.Op().Error("failed to mint a new vm", "err", err)
			break
		}

		o.mu.Lock()
		o.vms[vm.VmID] = vm
		o.mu.Unlock()

		metrics.VmStartsDispatched.Inc()
		o.dispatchStart(ctx, vm)
	}
}

// stopIdleVms shrinks the pool: for each READY VM the policy approves for
// teardown, flip it to STOPPING synchronously (so it cannot be
// re-selected this cycle or the next) and dispatch the actual provider stop
// asynchronously.
func (o *Orchestrator) stopIdleVms(ctx context.Context) {
	o.mu.Lock()
	snapshot := make([]*domain.Vm, 0, len(o.vms))
	for _, vm := range o.vms {
		if vm.State == domain.VmReady {
			snapshot = append(snapshot, vm)
		}
	}
	o.mu.Unlock()

	for _, vm := range snapshot {
		if !o.policy.CanVmBeStopped(vm) {
			continue
		}

		o.mu.Lock()
		if vm.State != domain.VmReady {
			o.mu.Unlock()
			continue
		}
		if !vm.IsIdle() {
			logging.Op().Warn("stopping vm with jobs still assigned", "vm_id", vm.VmID, "jobs", len(vm.Jobs))
		}
		vm.State = domain.VmStopping
		o.mu.Unlock()

		o.dispatchStop(ctx, vm)
	}
}

// dispatchStart runs NodeProvider.StartVm on the bounded worker pool. On
// success it records startedAt and registers the VM's auth token as
// pending; on failure it flips the VM to DOWN so the next cycle's GC pass
// removes it.
func (o *Orchestrator) dispatchStart(ctx context.Context, vm *domain.Vm) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		startCtx, cancel := context.WithTimeout(ctx, o.cfg.VmStartTimeout)
		defer cancel()
		o.Audit.Record(ctx, audit.Event{VmID: vm.VmID, Kind: "start_dispatched", Timestamp: o.now()})
		err := o.provider.StartVm(startCtx, vm)

		o.mu.Lock()
		defer o.mu.Unlock()
		if err != nil {
			logging.Op().Error("provider failed to start vm", "vm_id", vm.VmID, "err", err)
			vm.State = domain.VmDown
			metrics.VmStartFailures.Inc()
			o.Audit.Record(ctx, audit.Event{VmID: vm.VmID, Kind: "start_failed", Detail: err.Error(), Timestamp: o.now()})
			return
		}
		vm.StartedAt = o.now()
		o.pendingAuth[vm.Auth] = vm
		metrics.VmsStarted.Inc()
	}()
}

// dispatchStop runs NodeProvider.StopVm on the bounded worker pool. On
// success it marks the VM DOWN and logs its lifetime billing counters; on
// failure it leaves the VM in STOPPING so the next cycle retries (stop must
// be idempotent against an already-torn-down instance).
func (o *Orchestrator) dispatchStop(ctx context.Context, vm *domain.Vm) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		stopCtx, cancel := context.WithTimeout(ctx, o.cfg.Delay*4)
		defer cancel()
		o.Audit.Record(ctx, audit.Event{VmID: vm.VmID, Kind: "stop_dispatched", Timestamp: o.now()})
		err := o.provider.StopVm(stopCtx, vm)

		o.mu.Lock()
		defer o.mu.Unlock()
		if err != nil {
			logging.Op().Error("provider failed to stop vm, will retry", "vm_id", vm.VmID, "err", err)
			metrics.VmStopFailures.Inc()
			return
		}
		vm.StoppedAt = o.now()
		vm.State = domain.VmDown
		logging.Op().Info("vm stopped", "vm_id", vm.VmID,
			"running_time_seconds", vm.RunningTime.Seconds(),
			"total_idle_seconds", vm.TotalIdle.Seconds())
		metrics.VmsStopped.Inc()
		o.Audit.Record(ctx, audit.Event{
			VmID: vm.VmID, Kind: "stopped",
			Detail:    fmt.Sprintf("running_time=%.0fs total_idle=%.0fs", vm.RunningTime.Seconds(), vm.TotalIdle.Seconds()),
			Timestamp: vm.StoppedAt,
		})
	}()
}
