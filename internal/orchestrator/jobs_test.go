package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/cloudburst/vmmad/internal/domain"
	"github.com/cloudburst/vmmad/internal/policy"
	"github.com/cloudburst/vmmad/internal/provider"
)

func TestTerminationPropagation(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	o := New(testConfig(clock), provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Hour))

	vm := domain.NewVm("v1", "")
	vm.State = domain.VmReady
	vm.Nodename = "vm-1"
	o.InjectVm(vm)

	j1 := &domain.Job{
		JobID: "j1", State: domain.JobRunning,
		ExecNodeName: "vm-1", RunningAt: clock.Now().Add(time.Second),
	}
	j2 := pendingJob("j2", clock.Now().Add(time.Second))
	batch.set([]*domain.Job{j1, j2})
	clock.Advance(20 * time.Second)
	step(t, o)

	if _, ok := vm.Jobs["j1"]; !ok {
		t.Fatal("running job should be matched to its vm by nodename")
	}
	status := o.Status()
	if status.JobCount != 2 || status.Candidates != 1 {
		t.Fatalf("want 2 jobs / 1 candidate, got %d / %d", status.JobCount, status.Candidates)
	}

	// j1 vanishes from the next snapshot: it terminated.
	batch.set([]*domain.Job{j2})
	clock.Advance(20 * time.Second)
	step(t, o)

	if len(vm.Jobs) != 0 {
		t.Errorf("terminated job should be removed from its vm, jobs = %v", vm.Jobs)
	}
	status = o.Status()
	if status.JobCount != 1 {
		t.Errorf("job table should only hold j2, got %d jobs", status.JobCount)
	}
}

func TestCandidateLifecycle(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	o := New(testConfig(clock), provider.NewDummy(), batch, policy.NewThreshold("cloud-", 0, time.Hour))

	cloud := pendingJob("j1", clock.Now().Add(time.Second))
	cloud.Name = "cloud-render"
	local := pendingJob("j2", clock.Now().Add(time.Second))
	local.Name = "local-task"
	batch.set([]*domain.Job{cloud, local})
	clock.Advance(20 * time.Second)
	step(t, o)

	if got := o.Status().Candidates; got != 1 {
		t.Fatalf("only the prefix-matching job should be a candidate, got %d", got)
	}

	// The candidate starts running somewhere: it leaves the candidate set.
	cloud.State = domain.JobRunning
	cloud.ExecNodeName = "node-7"
	cloud.RunningAt = clock.Now().Add(time.Second)
	clock.Advance(20 * time.Second)
	step(t, o)
	if got := o.Status().Candidates; got != 0 {
		t.Errorf("running job should leave the candidate set, got %d", got)
	}
}

func TestSnapshotFailureKeepsJobTable(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	o := New(testConfig(clock), provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Hour))

	batch.set([]*domain.Job{pendingJob("j1", clock.Now().Add(time.Second))})
	clock.Advance(20 * time.Second)
	step(t, o)
	if got := o.Status().JobCount; got != 1 {
		t.Fatalf("want 1 job, got %d", got)
	}

	batch.mu.Lock()
	batch.err = errors.New("qstat timed out")
	batch.mu.Unlock()
	clock.Advance(20 * time.Second)
	step(t, o)
	if got := o.Status().JobCount; got != 1 {
		t.Errorf("failed snapshot must keep the prior job table, got %d jobs", got)
	}
}

func TestInvalidJobRecordsAreSkipped(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	batch := &stubBatch{}
	o := New(testConfig(clock), provider.NewDummy(), batch, policy.NewThreshold("", 0, time.Hour))

	valid := pendingJob("j1", clock.Now().Add(time.Second))
	runningWithoutNode := &domain.Job{JobID: "j2", State: domain.JobRunning}
	noID := &domain.Job{State: domain.JobPending}
	batch.set([]*domain.Job{valid, runningWithoutNode, noID})
	clock.Advance(20 * time.Second)
	step(t, o)

	if got := o.Status().JobCount; got != 1 {
		t.Errorf("invariant-violating records should be skipped, got %d jobs", got)
	}
}
