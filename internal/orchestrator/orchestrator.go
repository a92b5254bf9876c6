// Package orchestrator implements the reconciliation control loop that
// compares the batch job queue against the managed VM pool and starts or
// stops VMs accordingly: job and VM state machines, the authenticated ready
// callback, and bounded-concurrency async dispatch of provider operations.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cloudburst/vmmad/internal/audit"
	"github.com/cloudburst/vmmad/internal/batchsystem"
	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/logging"
	"github.com/cloudburst/vmmad/internal/metrics"
	"github.com/cloudburst/vmmad/internal/observability"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/provider"
)

// Config holds the orchestrator's tunables.
type Config struct {
	MaxVms         int
	MaxDelta       int
	VmStartTimeout time.Duration
	Delay          time.Duration
	WorkerPoolSize int64

	// Clock substitutes the wall clock. Defaults to time.Now; the Simulator
	// supplies a virtual clock here instead.
	Clock func() time.Time
}

// DefaultConfig returns conservative defaults: a 10 minute start timeout
// and a worker pool of 8.
func DefaultConfig() Config {
	return Config{
		MaxVms:         10,
		MaxDelta:       2,
		VmStartTimeout: 10 * time.Minute,
		Delay:          20 * time.Second,
		WorkerPoolSize: 8,
	}
}

// Orchestrator owns the VM table, job table, candidate set, and bookkeeping
// counters, and drives the reconciliation loop.
// All state is confined behind mu; the only entry points that mutate state
// from outside the reconciliation goroutine are VmIsReady (the web surface)
// and the async start/stop completion callbacks.
type Orchestrator struct {
	cfg      Config
	provider provider.NodeProvider
	batch    batchsystem.BatchSystem
	policy   policy.Policy
	sem      *semaphore.Weighted

	// Before runs at the very start of each cycle and After at the very
	// end. AfterJobs runs between the job-table refresh and VM
	// reconciliation; the Simulator uses it to stand in for the batch
	// scheduler (assigning pending jobs to idle VMs and advancing their
	// simulated run time) before any start/stop decisions are taken. All
	// three are optional.
	Before    func(o *Orchestrator)
	AfterJobs func(o *Orchestrator)
	After     func(o *Orchestrator)

	// Audit, if set, receives a best-effort lifecycle event for every
	// start/stop dispatch, start failure, start timeout, completed stop, and
	// ready callback; a successful start and a failed stop record nothing. A
	// nil value (the default) disables audit logging entirely; *audit.Log
	// itself also tolerates a nil receiver, so callers can wire this
	// unconditionally.
	Audit *audit.Log

	mu            sync.Mutex
	vms           map[string]*domain.Vm
	pendingAuth   map[string]*domain.Vm
	vmsByNodename map[string]*domain.Vm
	jobs          map[string]*domain.Job
	candidates    map[string]*domain.Job

	cycle          int
	lastUpdate     time.Time
	prevCycleStart time.Time
	nextVmID       uint64

	wg sync.WaitGroup
}

// New constructs an Orchestrator over the given ports. cfg.Clock defaults to
// time.Now if unset.
func New(cfg Config, p provider.NodeProvider, b batchsystem.BatchSystem, pol policy.Policy) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	now := cfg.Clock()
	return &Orchestrator{
		cfg:            cfg,
		provider:       p,
		batch:          b,
		policy:         pol,
		sem:            semaphore.NewWeighted(cfg.WorkerPoolSize),
		vms:            make(map[string]*domain.Vm),
		pendingAuth:    make(map[string]*domain.Vm),
		vmsByNodename:  make(map[string]*domain.Vm),
		jobs:           make(map[string]*domain.Job),
		candidates:     make(map[string]*domain.Job),
		lastUpdate:     now,
		prevCycleStart: now,
	}
}

func (o *Orchestrator) now() time.Time { return o.cfg.Clock() }

// Run executes the reconciliation cycle every cfg.Delay until ctx is
// cancelled or maxCycles cycles have completed (maxCycles<=0 means forever).
// If a cycle overruns its delay budget, the next one starts immediately
// rather than waiting out the remainder.
func (o *Orchestrator) Run(ctx context.Context, maxCycles int) error {
	for {
		cycleStart := o.now()
		o.Step(ctx)

		o.mu.Lock()
		cycle := o.cycle
		o.mu.Unlock()
		if maxCycles > 0 && cycle >= maxCycles {
			return nil
		}

		elapsed := o.now().Sub(cycleStart)
		if elapsed >= o.cfg.Delay {
			logging.Op().Warn("reconciliation cycle overran its delay budget",
				"elapsed", elapsed, "delay", o.cfg.Delay)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.Delay - elapsed):
		}
	}
}

// Step executes exactly one reconciliation cycle, minus the inter-cycle
// sleep, which Run owns. The Simulator calls Step directly,
// advancing its own virtual clock between calls instead of sleeping.
func (o *Orchestrator) Step(ctx context.Context) {
	start := time.Now()
	if observability.Enabled() {
		var span trace.Span
		ctx, span = observability.StartSpan(ctx, "orchestrator.cycle",
			observability.AttrCycle.Int(o.Cycle()))
		defer span.End()
	}

	if o.Before != nil {
		o.Before(o)
	}

	now := o.now()
	o.mu.Lock()
	elapsed := now.Sub(o.prevCycleStart)
	if elapsed < 0 {
		elapsed = 0
	}
	o.prevCycleStart = now
	o.mu.Unlock()

	o.updateJobs(ctx, now)
	if o.AfterJobs != nil {
		o.AfterJobs(o)
	}
	o.refreshVms(ctx)
	o.reconcileVms(ctx, elapsed, now)
	o.startNewVms(ctx)
	o.stopIdleVms(ctx)

	o.mu.Lock()
	o.cycle++
	o.observeStateLocked()
	o.mu.Unlock()

	if o.After != nil {
		o.After(o)
	}

	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) observeStateLocked() {
	counts := map[domain.VmState]float64{
		domain.VmStarting: 0, domain.VmReady: 0, domain.VmDraining: 0,
		domain.VmStopping: 0, domain.VmDown: 0, domain.VmOther: 0,
	}
	for _, vm := range o.vms {
		counts[vm.State]++
	}
	for state, n := range counts {
		metrics.VmsByState.WithLabelValues(string(state)).Set(n)
	}
}

// newVm mints a STARTING Vm with a fresh monotonic ID and an auth token with
// at least 128 bits of entropy, guaranteed not to collide with a currently
// pending one.
func (o *Orchestrator) newVm() (*domain.Vm, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var auth string
	for i := 0; i < 8; i++ {
		tok, err := randomAuthToken()
		if err != nil {
			return nil, err
		}
		if _, clash := o.pendingAuth[tok]; !clash {
			auth = tok
			break
		}
	}
	if auth == "" {
		return nil, fmt.Errorf("orchestrator: could not mint a unique auth token")
	}

	o.nextVmID++
	return domain.NewVm(strconv.FormatUint(o.nextVmID, 10), auth), nil
}

func randomAuthToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("orchestrator: generating auth token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VmIsReady promotes a STARTING VM to READY. It returns false without
// mutating state if auth is empty or unknown. The reported hostname's DNS
// suffix is stripped before it is stored as the VM's nodename, so that a
// fully-qualified and a short hostname register identically.
func (o *Orchestrator) VmIsReady(auth, hostname string) bool {
	if auth == "" || hostname == "" {
		metrics.ReadyCallbackRejected.Inc()
		logging.Op().Error("ready callback missing required parameter", "hostname", hostname)
		return false
	}
	nodename := stripDNSSuffix(hostname)

	o.mu.Lock()
	defer o.mu.Unlock()

	vm, ok := o.pendingAuth[auth]
	if !ok {
		metrics.ReadyCallbackRejected.Inc()
		logging.Op().Error("ready callback with unknown auth token", "hostname", hostname)
		return false
	}
	delete(o.pendingAuth, auth)

	if existing, clash := o.vmsByNodename[nodename]; clash && existing.VmID != vm.VmID {
		logging.Op().Warn("nodename re-registered to a different vm",
			"nodename", nodename, "old_vm_id", existing.VmID, "new_vm_id", vm.VmID)
	}

	vm.State = domain.VmReady
	vm.ReadyAt = o.now()
	vm.Nodename = nodename
	o.vmsByNodename[nodename] = vm

	metrics.VmsReady.Inc()
	logging.Op().Info("vm ready", "vm_id", vm.VmID, "nodename", nodename)
	o.Audit.Record(context.Background(), audit.Event{
		VmID: vm.VmID, Kind: "ready", Nodename: nodename, Timestamp: vm.ReadyAt,
	})
	return true
}

func stripDNSSuffix(hostname string) string {
	if i := strings.IndexByte(hostname, '.'); i >= 0 {
		return hostname[:i]
	}
	return hostname
}

// Cycle returns the number of completed reconciliation cycles.
func (o *Orchestrator) Cycle() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycle
}

// WaitIdle blocks until every dispatched async start/stop worker has
// finished, up to ctx's deadline. The Simulator calls this between cycles so
// that virtual-clock runs are deterministic; tests use it to observe the
// post-dispatch state without racing the worker pool.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown waits for all dispatched async start/stop workers to finish, up
// to ctx's deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.WaitIdle(ctx)
}
