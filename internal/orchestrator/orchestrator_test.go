package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/provider"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{t: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubBatch returns a scripted snapshot; swap the job list between cycles to
// drive the job table.
type stubBatch struct {
	mu   sync.Mutex
	jobs []*domain.Job
	err  error
}

func (s *stubBatch) Snapshot(_ context.Context) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Job, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

func (s *stubBatch) set(jobs []*domain.Job) {
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
}

// failStartProvider accepts nothing: every StartVm errors.
type failStartProvider struct{ *provider.Dummy }

func (p *failStartProvider) StartVm(_ context.Context, _ *domain.Vm) error {
	return errors.New("quota exceeded")
}

func pendingJob(id string, submitted time.Time) *domain.Job {
	return &domain.Job{JobID: id, State: domain.JobPending, SubmittedAt: submitted}
}

func testConfig(clock *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	cfg.Delay = 20 * time.Second
	return cfg
}

// step runs one cycle and waits for all dispatched workers, so assertions
// observe the post-dispatch state.
func step(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.Step(ctx)
	if err := o.WaitIdle(ctx); err != nil {
		t.Fatalf("workers did not drain: %v", err)
	}
}

func TestTrivialStartAndReady(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	cfg.MaxVms = 1
	o := New(cfg, provider.NewDummy(), batch, policy.NewThreshold("", 0, 30*time.Second))

	batch.set([]*domain.Job{pendingJob("j1", clock.Now().Add(time.Second))})
	clock.Advance(cfg.Delay)
	step(t, o)

	status := o.Status()
	if len(status.Vms) != 1 {
		t.Fatalf("want 1 vm after first cycle, got %d", len(status.Vms))
	}
	vm := status.Vms[0]
	if vm.State != domain.VmStarting {
		t.Fatalf("vm state = %s, want STARTING", vm.State)
	}
	if vm.Auth == "" {
		t.Fatal("starting vm has no auth token")
	}

	if !o.VmIsReady(vm.Auth, "vm-1.cloud.example.com") {
		t.Fatal("ready callback with valid auth should succeed")
	}
	status = o.Status()
	if status.Vms[0].State != domain.VmReady {
		t.Errorf("vm state = %s after ready callback, want READY", status.Vms[0].State)
	}
	if status.Vms[0].Nodename != "vm-1" {
		t.Errorf("nodename = %q, want DNS suffix stripped to %q", status.Vms[0].Nodename, "vm-1")
	}
}

func TestReadyCallbackUnknownAuth(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	o := New(testConfig(clock), provider.NewDummy(), &stubBatch{}, policy.NewThreshold("", 0, time.Minute))

	if o.VmIsReady("XYZ", "vm-99") {
		t.Error("unknown auth should be rejected")
	}
	if o.VmIsReady("", "vm-99") {
		t.Error("empty auth should be rejected")
	}
	if o.VmIsReady("XYZ", "") {
		t.Error("empty hostname should be rejected")
	}
	if len(o.Status().Vms) != 0 {
		t.Error("rejected callback must not mutate state")
	}
}

func TestReadyCallbackIsOneShot(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	cfg.MaxVms = 1
	o := New(cfg, provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Minute))

	batch.set([]*domain.Job{pendingJob("j1", clock.Now().Add(time.Second))})
	clock.Advance(cfg.Delay)
	step(t, o)

	auth := o.Status().Vms[0].Auth
	if !o.VmIsReady(auth, "vm-1") {
		t.Fatal("first ready call should succeed")
	}
	if o.VmIsReady(auth, "vm-1") {
		t.Error("second ready call with a consumed auth should fail")
	}
}

func TestMaxVmsAndMaxDeltaBounds(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	cfg.MaxVms = 3
	cfg.MaxDelta = 2
	o := New(cfg, provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Minute))

	backlog := make([]*domain.Job, 0, 10)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		backlog = append(backlog, pendingJob(id, clock.Now().Add(time.Second)))
	}
	batch.set(backlog)

	clock.Advance(cfg.Delay)
	step(t, o)
	if got := len(o.Status().Vms); got != 2 {
		t.Fatalf("cycle 1: want maxDelta=2 starts, got %d vms", got)
	}

	clock.Advance(cfg.Delay)
	step(t, o)
	if got := len(o.Status().Vms); got != 3 {
		t.Fatalf("cycle 2: want maxVms=3 cap reached, got %d vms", got)
	}

	clock.Advance(cfg.Delay)
	step(t, o)
	if got := len(o.Status().Vms); got != 3 {
		t.Fatalf("cycle 3: vms must stay capped at 3, got %d", got)
	}
}

func TestStartTimeout(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	cfg.MaxVms = 1
	cfg.VmStartTimeout = 60 * time.Second
	o := New(cfg, provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Minute))

	batch.set([]*domain.Job{pendingJob("j1", clock.Now().Add(time.Second))})
	clock.Advance(cfg.Delay)
	step(t, o)
	if got := o.Status().Vms[0].State; got != domain.VmStarting {
		t.Fatalf("vm state = %s, want STARTING", got)
	}

	// The VM never calls in ready. Past the timeout the orchestrator stops
	// it; the cycle after that observes it DOWN and garbage-collects.
	clock.Advance(100 * time.Second)
	step(t, o)
	status := o.Status()
	if len(status.Vms) != 1 || status.Vms[0].State != domain.VmDown {
		t.Fatalf("want timed-out vm stopped (DOWN), got %+v", status.Vms)
	}

	clock.Advance(cfg.Delay)
	batch.set(nil)
	step(t, o)
	if got := len(o.Status().Vms); got != 0 {
		t.Fatalf("down vm should be garbage-collected, still have %d", got)
	}
}

func TestIdleStop(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	o := New(cfg, provider.NewDummy(), batch, policy.NewThreshold("", 0, 30*time.Second))

	vm := domain.NewVm("idle-1", "")
	vm.State = domain.VmReady
	vm.Nodename = "vm-idle-1"
	o.InjectVm(vm)

	clock.Advance(20 * time.Second)
	step(t, o)
	if got := o.Status().Vms[0].State; got != domain.VmReady {
		t.Fatalf("after 20s idle vm state = %s, want READY (threshold is 30s)", got)
	}

	clock.Advance(20 * time.Second)
	step(t, o)
	status := o.Status()
	if len(status.Vms) != 1 || status.Vms[0].State != domain.VmDown {
		t.Fatalf("after 40s idle want vm stopped (DOWN), got %+v", status.Vms)
	}

	clock.Advance(20 * time.Second)
	step(t, o)
	if got := len(o.Status().Vms); got != 0 {
		t.Fatalf("stopped vm should be removed, still have %d", got)
	}
}

func TestStartFailureMarksVmDown(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	cfg := testConfig(clock)
	cfg.MaxVms = 1
	cfg.MaxDelta = 1
	o := New(cfg, &failStartProvider{provider.NewDummy()}, batch, policy.NewThreshold("", 0, time.Minute))

	batch.set([]*domain.Job{pendingJob("j1", clock.Now().Add(time.Second))})
	clock.Advance(cfg.Delay)
	step(t, o)
	status := o.Status()
	if len(status.Vms) != 1 || status.Vms[0].State != domain.VmDown {
		t.Fatalf("failed start should leave vm DOWN, got %+v", status.Vms)
	}

	clock.Advance(cfg.Delay)
	batch.set(nil)
	step(t, o)
	if got := len(o.Status().Vms); got != 0 {
		t.Fatalf("failed vm should be garbage-collected, still have %d", got)
	}
}

func TestProviderObservedDownIsRemoved(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	dummy := provider.NewDummy()
	o := New(testConfig(clock), dummy, batch, policy.NewThreshold("", 0, time.Hour))

	vm := domain.NewVm("crash-1", "")
	vm.State = domain.VmReady
	vm.Nodename = "vm-crash-1"
	o.InjectVm(vm)

	// The VM dies on its own; the orchestrator never issued a stop.
	dummy.Kill("crash-1")
	clock.Advance(20 * time.Second)
	step(t, o)
	clock.Advance(20 * time.Second)
	step(t, o)
	if got := len(o.Status().Vms); got != 0 {
		t.Fatalf("provider-observed DOWN vm should be removed, still have %d", got)
	}
}

func TestIdleCountersAccrueAndReset(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	o := New(testConfig(clock), provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Hour))

	vm := domain.NewVm("v1", "")
	vm.State = domain.VmReady
	vm.Nodename = "vm-v1"
	o.InjectVm(vm)

	clock.Advance(20 * time.Second)
	step(t, o)
	clock.Advance(20 * time.Second)
	step(t, o)
	if vm.LastIdle < 40*time.Second {
		t.Errorf("lastIdle = %v after 40s with no jobs, want >= 40s", vm.LastIdle)
	}
	if vm.TotalIdle < 40*time.Second {
		t.Errorf("totalIdle = %v after 40s with no jobs, want >= 40s", vm.TotalIdle)
	}

	running := &domain.Job{
		JobID: "j1", State: domain.JobRunning,
		ExecNodeName: "vm-v1", RunningAt: clock.Now().Add(time.Second),
	}
	batch.set([]*domain.Job{running})
	clock.Advance(20 * time.Second)
	step(t, o)
	if vm.LastIdle != 0 {
		t.Errorf("lastIdle = %v after job assignment, want 0", vm.LastIdle)
	}
}

func TestRunHonorsMaxCycles(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	cfg := testConfig(clock)
	cfg.Delay = time.Millisecond
	cfg.Clock = time.Now
	o := New(cfg, provider.NewDummy(), &stubBatch{}, policy.NewThreshold("", 0, time.Minute))

	if err := o.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := o.Cycle(); got != 3 {
		t.Errorf("cycle count = %d, want 3", got)
	}
}
