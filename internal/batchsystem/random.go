package batchsystem

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudburst/vmmad/internal/domain"
)

// DurationPicker returns a job run duration in seconds. Implementations need
// not be safe for concurrent use; Random serializes all access internally.
type DurationPicker interface {
	Next() float64
}

// UniformDuration draws an integer number of seconds uniformly from
// [Min, Max].
type UniformDuration struct {
	Min, Max int
}

func (u UniformDuration) Next() float64 {
	if u.Max <= u.Min {
		return float64(u.Min)
	}
	return float64(u.Min + rand.Intn(u.Max-u.Min+1))
}

// Random is a synthetic BatchSystem that submits jobs at a Bernoulli rate:
// on every Snapshot call it makes N independent trials, each succeeding with
// probability P, and for every success appends one new PENDING job with a
// duration drawn from Duration. Job IDs are UUIDs; nothing here needs
// trace-replay determinism.
type Random struct {
	N        int
	P        float64
	Duration DurationPicker
	Clock    func() time.Time

	mu     sync.Mutex
	active []*domain.Job
	rng    *rand.Rand
}

// NewRandom returns a Random generator seeded from seed. The seed drives the
// Bernoulli trials only, so a fixed seed reproduces how many jobs each
// Snapshot submits; job IDs are fresh UUIDs and UniformDuration draws from
// the package-level math/rand source, so neither is reproduced by the seed.
func NewRandom(n int, p float64, duration DurationPicker, clock func() time.Time, seed int64) *Random {
	return &Random{
		N:        n,
		P:        p,
		Duration: duration,
		Clock:    clock,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (r *Random) Snapshot(_ context.Context) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Clock()
	for i := 0; i < r.N; i++ {
		if r.rng.Float64() > r.P {
			continue
		}
		r.active = append(r.active, &domain.Job{
			JobID:       uuid.NewString(),
			State:       domain.JobPending,
			SubmittedAt: now,
			Duration:    r.Duration.Next(),
		})
	}

	out := make([]*domain.Job, len(r.active))
	copy(out, r.active)
	return out, nil
}

// Remove evicts jobID from the active set, e.g. once a caller driving this
// generator (such as the Simulator) decides the job has run to completion.
func (r *Random) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.active[:0]
	for _, job := range r.active {
		if job.JobID != jobID {
			kept = append(kept, job)
		}
	}
	r.active = kept
}
