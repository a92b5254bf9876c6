// Package batchsystem defines the BatchSystem port and its two built-in
// adapters: a CSV trace replay reader and a synthetic Bernoulli job
// generator. A production deployment would add an adapter for its real
// scheduler (e.g. Grid Engine's qstat -xml output) behind the same
// interface.
package batchsystem

import (
	"context"

	"github.com/cloudburst/vmmad/internal/domain"
)

// BatchSystem returns a snapshot of the batch system's current queue
// contents. The returned list must be a consistent point-in-time view of
// both pending and running jobs: the orchestrator core relies on
// set-difference between successive snapshots to infer job termination.
type BatchSystem interface {
	Snapshot(ctx context.Context) ([]*domain.Job, error)
}
