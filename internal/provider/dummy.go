package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudburst/vmmad/internal/domain"
)

// Dummy is an in-memory NodeProvider that never talks to a real cloud, used
// by the Simulator and by orchestrator tests. Every started VM is
// immediately considered accepted; Refresh is a no-op unless the VM has been
// explicitly marked down via Kill (used by tests to exercise the
// start-timeout and provider-observed-DOWN paths).
type Dummy struct {
	mu      sync.Mutex
	started map[string]bool
	killed  map[string]bool
}

// NewDummy returns a ready-to-use Dummy provider.
func NewDummy() *Dummy {
	return &Dummy{
		started: make(map[string]bool),
		killed:  make(map[string]bool),
	}
}

func (d *Dummy) StartVm(_ context.Context, vm *domain.Vm) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started[vm.VmID] = true
	vm.ProviderHandle = fmt.Sprintf("dummy-instance-%s", vm.VmID)
	return nil
}

func (d *Dummy) Refresh(_ context.Context, vms []*domain.Vm) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, vm := range vms {
		if d.killed[vm.VmID] {
			vm.State = domain.VmDown
		}
	}
	return nil
}

func (d *Dummy) StopVm(_ context.Context, vm *domain.Vm) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.started, vm.VmID)
	d.killed[vm.VmID] = true
	return nil
}

// Kill marks vmID as observed DOWN by the provider on the next Refresh,
// without going through StopVm. Used by tests to simulate a VM that died on
// its own (crash, preemption) rather than via an orchestrator-issued stop.
func (d *Dummy) Kill(vmID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed[vmID] = true
}
