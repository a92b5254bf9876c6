package domain

import "time"

// VmState is the lifecycle state of a managed VM. Transitions form the DAG
// STARTING -> READY -> (DRAINING ->)? STOPPING -> DOWN, with STARTING -> DOWN
// allowed on start-timeout/start-failure and any state allowed to move to
// OTHER on an unexpected provider status.
type VmState string

const (
	VmStarting VmState = "STARTING"
	VmReady    VmState = "READY"
	VmDraining VmState = "DRAINING"
	VmStopping VmState = "STOPPING"
	VmDown     VmState = "DOWN"
	VmOther    VmState = "OTHER"
)

// IsValid reports whether s is one of the defined VM states.
func (s VmState) IsValid() bool {
	switch s {
	case VmStarting, VmReady, VmDraining, VmStopping, VmDown, VmOther:
		return true
	}
	return false
}

// Vm records a single cloud-provisioned VM under orchestrator management.
//
// Nodename is set iff the VM has transitioned to READY at least once. Auth
// is the one-shot credential handed to the VM at boot and consumed by the
// first valid `ready` callback. ProviderHandle is an opaque slot for
// provider-specific data (instance ID, region, etc.) so that domain.Vm never
// needs a dynamic attribute bag.
type Vm struct {
	VmID     string              `json:"vm_id"`
	Auth     string              `json:"-"` // never serialized to untrusted consumers
	State    VmState             `json:"state"`
	Jobs     map[string]struct{} `json:"-"`
	Nodename string              `json:"nodename,omitempty"`

	StartedAt time.Time `json:"started_at,omitempty"`
	ReadyAt   time.Time `json:"ready_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`

	RunningTime time.Duration `json:"running_time_ns"`
	TotalIdle   time.Duration `json:"total_idle_ns"`
	LastIdle    time.Duration `json:"last_idle_ns"`

	Bill float64 `json:"bill,omitempty"`

	ProviderHandle any `json:"-"`

	// EverRunning marks a Simulator "pre-existing cluster node" that is
	// never stopped and needs no startup delay. Always false outside the
	// simulator.
	EverRunning bool `json:"-"`
}

// NewVm returns a freshly constructed Vm in the STARTING state with empty
// job/idle bookkeeping. vmID and auth are supplied by the caller (the
// orchestrator owns the counters/uniqueness checks for both).
func NewVm(vmID, auth string) *Vm {
	return &Vm{
		VmID:  vmID,
		Auth:  auth,
		State: VmStarting,
		Jobs:  make(map[string]struct{}),
	}
}

// IsAlive reports whether the VM is up or will soon be (STARTING or READY).
func (v *Vm) IsAlive() bool {
	return v.State == VmStarting || v.State == VmReady
}

// IsIdle reports whether the VM currently has no jobs assigned.
func (v *Vm) IsIdle() bool {
	return len(v.Jobs) == 0
}

// AddJob assigns jobID to this VM and resets the idle countdown.
func (v *Vm) AddJob(jobID string) {
	v.Jobs[jobID] = struct{}{}
	v.LastIdle = 0
}

// RemoveJobs deletes every job in terminated from this VM's job set.
func (v *Vm) RemoveJobs(terminated map[string]struct{}) {
	for id := range terminated {
		delete(v.Jobs, id)
	}
}

// CheckInvariants verifies the Vm entity invariants.
func (v *Vm) CheckInvariants() error {
	if v.VmID == "" {
		return errInvariant("vm has empty VmID")
	}
	if !v.State.IsValid() {
		return errInvariant("vm " + v.VmID + " has unknown state " + string(v.State))
	}
	if v.State == VmStarting && v.Auth == "" {
		return errInvariant("vm " + v.VmID + " is STARTING but has no Auth token")
	}
	return nil
}
