// Package simulator implements the deterministic Simulator driver: a
// virtual-clock harness that runs the exact same Orchestrator core against a
// recorded job trace and a dummy provider, so the control loop can be
// exercised and validated without a real cloud. The virtual clock advances
// by a fixed time step per cycle; "ever-running" VMs stand in for a
// pre-existing cluster, startup-delay VMs simulate boot latency, one pending
// job is assigned per idle VM per cycle, and a CSV row is emitted every
// cycle. The batch-scheduler simulation drives the orchestrator through its
// real VmIsReady and job bookkeeping paths rather than mutating a parallel
// copy of its state.
package simulator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cloudburst/vmmad/internal/batchsystem"
	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/orchestrator"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/provider"
)

// Config holds the simulator's own tunables, layered on top of the
// orchestrator's.
type Config struct {
	ClusterSize  int           // number of ever-running pre-existing nodes
	StartupDelay time.Duration // boot latency simulated for non-ever-running VMs
	TimeInterval time.Duration // virtual seconds advanced per cycle
	StartingTime time.Time     // t=0 of the virtual clock; zero means "earliest trace submission"
	MaxCycles    int           // 0 = run until the trace is exhausted

	// MaxVms caps the whole VM table, ever-running cluster nodes included.
	// MaxDelta and VmStartTimeout override the orchestrator defaults when
	// non-zero.
	MaxVms         int
	MaxDelta       int
	VmStartTimeout time.Duration
}

// Simulator drives an *orchestrator.Orchestrator with a virtual clock, a
// trace-replay BatchSystem, and an in-memory NodeProvider.
type Simulator struct {
	cfg    Config
	orch   *orchestrator.Orchestrator
	replay *batchsystem.Replay
	writer *rowWriter

	clockCycle int64
	booting    map[string]bool // vmID -> startup countdown initialized
	seeded     bool
	done       bool
}

// New wires a Simulator together: the trace at tracePath becomes the replay
// BatchSystem, driven by the simulator's virtual clock. outputPath, if
// non-empty, receives one CSV row per cycle; pass "" to discard output.
func New(cfg Config, pol policy.Policy, tracePath, outputPath string) (*Simulator, error) {
	if cfg.TimeInterval <= 0 {
		return nil, fmt.Errorf("simulator: TimeInterval must be positive")
	}

	w, err := newRowWriter(outputPath)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:     cfg,
		writer:  w,
		booting: make(map[string]bool),
	}

	replay, err := batchsystem.NewReplay(tracePath, s.now, cfg.StartingTime)
	if err != nil {
		w.Close()
		return nil, err
	}
	s.replay = replay
	if s.cfg.StartingTime.IsZero() {
		s.cfg.StartingTime = replay.StartTime()
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Clock = s.now
	if cfg.MaxVms > 0 {
		orchCfg.MaxVms = cfg.MaxVms
	}
	if cfg.MaxDelta > 0 {
		orchCfg.MaxDelta = cfg.MaxDelta
	}
	if cfg.VmStartTimeout > 0 {
		orchCfg.VmStartTimeout = cfg.VmStartTimeout
	}
	oc := orchestrator.New(orchCfg, provider.NewDummy(), replay, pol)
	oc.Before = s.before
	oc.AfterJobs = s.schedule
	oc.After = s.after
	s.orch = oc

	return s, nil
}

func (s *Simulator) now() time.Time {
	return s.cfg.StartingTime.Add(time.Duration(s.clockCycle) * s.cfg.TimeInterval)
}

// Orchestrator exposes the driven core, for tests asserting on its state.
func (s *Simulator) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Run drives cycles until the trace and every assigned job are exhausted, or
// cfg.MaxCycles is reached (0 = unbounded). Between cycles it waits for all
// async start/stop workers so that a run over the same trace is
// deterministic.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.writer.Close()

	for {
		s.orch.Step(ctx)
		if err := s.orch.WaitIdle(ctx); err != nil {
			return err
		}
		if s.done {
			return nil
		}
		if s.cfg.MaxCycles > 0 && s.clockCycle+1 >= int64(s.cfg.MaxCycles) {
			return nil
		}
		s.clockCycle++
	}
}

// before seeds the ever-running cluster nodes exactly once, on the first
// cycle.
func (s *Simulator) before(o *orchestrator.Orchestrator) {
	if s.seeded {
		return
	}
	s.seeded = true
	for i := 0; i < s.cfg.ClusterSize; i++ {
		vm := domain.NewVm(fmt.Sprintf("cluster-%d", i), "")
		vm.State = domain.VmReady
		vm.Nodename = fmt.Sprintf("clusternode-%d", i)
		vm.ReadyAt = s.now()
		vm.EverRunning = true
		o.InjectVm(vm)
	}
}

// schedule stands in for the batch scheduler. It runs right after the job
// table has been refreshed and before any start/stop decisions: advance
// running job durations and evict finished ones, progress STARTING VMs
// through their simulated boot delay into READY, and assign one pending job
// to every idle READY VM.
func (s *Simulator) schedule(o *orchestrator.Orchestrator) {
	s.advanceRunningJobs(o)
	s.progressStartupDelays(o)
	s.assignPendingJobs(o)
}

// after emits this cycle's CSV row and checks for termination.
func (s *Simulator) after(o *orchestrator.Orchestrator) {
	status := o.Status()
	s.writer.WriteRow(s.now(), s.countPending(o), s.countRunning(o), s.countStarted(status), s.countIdle(o))

	if s.replay.Exhausted() && s.countRunning(o) == 0 && s.countPending(o) == 0 {
		s.done = true
	}
}

// advanceRunningJobs burns one time step off every running job's remaining
// duration. A job that completes is marked FINISHED, released from its VM,
// and evicted from the replay so the next snapshot's set-difference retires
// it from the job table.
func (s *Simulator) advanceRunningJobs(o *orchestrator.Orchestrator) {
	byNodename := make(map[string]*domain.Vm)
	for _, vm := range o.Vms() {
		if vm.Nodename != "" {
			byNodename[vm.Nodename] = vm
		}
	}

	step := s.cfg.TimeInterval.Seconds()
	for _, job := range o.Jobs() {
		if job.State != domain.JobRunning {
			continue
		}
		job.Duration -= step
		if job.Duration > 0 {
			continue
		}
		job.State = domain.JobFinished
		if vm, ok := byNodename[job.ExecNodeName]; ok {
			delete(vm.Jobs, job.JobID)
		}
		s.replay.Remove(job.JobID)
	}
}

// progressStartupDelays moves non-ever-running STARTING VMs toward READY. A
// newly-seen VM begins with lastIdle = -StartupDelay; the reconciliation
// loop's own idle accounting then counts it back up, and once it reaches
// zero the VM reports in through the real VmIsReady path so the ready
// bookkeeping (pendingAuth, vmsByNodename) is exercised identically to a
// live deployment.
func (s *Simulator) progressStartupDelays(o *orchestrator.Orchestrator) {
	for _, vm := range o.Vms() {
		if vm.EverRunning || vm.State != domain.VmStarting {
			continue
		}
		if !s.booting[vm.VmID] {
			s.booting[vm.VmID] = true
			vm.LastIdle = -s.cfg.StartupDelay
		}
		if vm.LastIdle < 0 {
			continue
		}
		hostname := fmt.Sprintf("vm-%s", vm.VmID)
		if o.VmIsReady(vm.Auth, hostname) {
			delete(s.booting, vm.VmID)
		}
	}
}

// assignPendingJobs gives one pending job, oldest submission first, to every
// READY VM that currently has none.
func (s *Simulator) assignPendingJobs(o *orchestrator.Orchestrator) {
	pending := make([]*domain.Job, 0)
	for _, job := range o.Jobs() {
		if job.State == domain.JobPending {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SubmittedAt.Before(pending[j].SubmittedAt) })

	now := s.now()
	idx := 0
	for _, vm := range o.Vms() {
		if vm.State != domain.VmReady || !vm.IsIdle() {
			continue
		}
		if idx >= len(pending) {
			break
		}
		job := pending[idx]
		idx++
		job.State = domain.JobRunning
		job.ExecNodeName = vm.Nodename
		job.RunningAt = now
		vm.AddJob(job.JobID)
	}
}

func (s *Simulator) countPending(o *orchestrator.Orchestrator) int {
	n := 0
	for _, job := range o.Jobs() {
		if job.State == domain.JobPending {
			n++
		}
	}
	return n
}

func (s *Simulator) countRunning(o *orchestrator.Orchestrator) int {
	n := 0
	for _, job := range o.Jobs() {
		if job.State == domain.JobRunning {
			n++
		}
	}
	return n
}

func (s *Simulator) countStarted(status orchestrator.Status) int {
	n := 0
	for _, vm := range status.Vms {
		if vm.State == domain.VmStarting || vm.State == domain.VmReady {
			n++
		}
	}
	return n
}

// countIdle computes the idle-VM count as a derived quantity at report time
// rather than an incrementally-maintained counter, which cannot drift.
func (s *Simulator) countIdle(o *orchestrator.Orchestrator) int {
	n := 0
	for _, vm := range o.Vms() {
		if vm.EverRunning {
			continue
		}
		if vm.State != domain.VmDown && vm.LastIdle > 0 {
			n++
		}
	}
	return n
}
