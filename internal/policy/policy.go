// Package policy defines the Policy port: the three decision points the
// orchestrator core defers to an operator-supplied implementation rather
// than baking in, plus a Threshold implementation suitable as a sane
// default.
package policy

import "github.com/cloudburst/vmmad/internal/domain"

// Policy supplies the three decisions the orchestrator core cannot make on
// its own: which pending jobs are candidates for cloud bursting, whether the
// current candidate backlog warrants starting another VM, and whether an
// idle VM may be torn down.
type Policy interface {
	// IsCloudCandidate reports whether job should be considered for cloud
	// bursting at all. Called once per newly-observed PENDING job.
	IsCloudCandidate(job *domain.Job) bool

	// IsNewVmNeeded reports whether the current candidate backlog justifies
	// starting one more VM. Called up to maxDelta times per reconciliation
	// cycle (once before each start), after candidates have been recomputed,
	// with the full candidate set and the count of VMs currently alive
	// (STARTING or READY).
	IsNewVmNeeded(candidates []*domain.Job, vmsAlive int) bool

	// CanVmBeStopped reports whether vm may be torn down right now. Called
	// once per READY VM per cycle, whether or not it has jobs assigned.
	CanVmBeStopped(vm *domain.Vm) bool
}
