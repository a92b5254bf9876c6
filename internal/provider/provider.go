// Package provider defines the NodeProvider port: the interface the
// orchestrator core uses to start, stop, and refresh the state of VMs on a
// cloud. Concrete cloud back-ends (EC2, grid-submission-as-VM, ...) are out
// of scope for this module; only the interface and an in-memory dummy (used
// by the Simulator and by tests) live here.
package provider

import (
	"context"

	"github.com/cloudburst/vmmad/internal/domain"
)

// NodeProvider starts, stops, and refreshes state of VMs on a cloud. All
// three methods must tolerate being called concurrently for distinct VMs,
// and StopVm must be idempotent/safe against an already-stopped instance.
type NodeProvider interface {
	// StartVm reserves and launches vm. On return without error the VM is
	// considered "accepted by the cloud" (not necessarily running yet); the
	// implementation may stash a provider-specific handle in
	// vm.ProviderHandle. The implementation is responsible for conveying
	// vm.Auth to the instance via its boot parameters (e.g. a VMMAD_AUTH
	// boot variable) so the instance can call the ready endpoint.
	StartVm(ctx context.Context, vm *domain.Vm) error

	// Refresh updates the provider-observable state of each VM in vms, in
	// place. A VM's State is remapped onto the core state enum: pending or
	// rebooting maps to STARTING, running maps to READY, terminated maps to
	// DOWN, anything unrecognized maps to OTHER. The core tolerates Refresh
	// reporting READY before the authenticated `ready` callback arrives;
	// that signal is ignored for state-machine purposes.
	Refresh(ctx context.Context, vms []*domain.Vm) error

	// StopVm tears vm down. Must be safe to call more than once for the same
	// VM (the orchestrator retries a failed stop on the next cycle).
	StopVm(ctx context.Context, vm *domain.Vm) error
}
