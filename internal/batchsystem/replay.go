package batchsystem

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudburst/vmmad/internal/domain"
)

// Replay is a BatchSystem backed by a CSV trace file. Jobs are read once at
// construction time and released into the active set as the clock passes
// each row's SUBMITTED_AT; a job is dropped from the active set once
// SUBMITTED_AT+RUN_DURATION has elapsed, regardless of whether anything ever
// marked it RUNNING. Callers that want real run semantics (a job occupying a
// VM until its duration elapses from the moment it started, not from
// submission) mutate the *domain.Job returned by Snapshot in place; Replay
// only owns arrival and trace-lifetime expiry, not scheduling.
type Replay struct {
	clock func() time.Time

	mu     sync.Mutex
	future []*domain.Job // ascending by SubmittedAt; earliest first
	active []*domain.Job
}

// requiredColumns are the trace columns Replay cannot operate without.
// Column names are matched case-insensitively against the header row.
var requiredColumns = []string{"JOBID", "SUBMITTED_AT", "RUN_DURATION"}

// NewReplay loads a CSV trace from path and returns a Replay driven by
// clock (typically time.Now, or a Simulator's virtual clock). Rows with
// SUBMITTED_AT before startTime are discarded. The delimiter is
// auto-detected by sniffing the header line against a small set of
// candidates, since trace files in the wild show up both comma- and
// semicolon- and tab-delimited.
func NewReplay(path string, clock func() time.Time, startTime time.Time) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batchsystem: opening trace %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("batchsystem: reading trace header: %w", err)
	}
	delim := sniffDelimiter(headerLine)

	r := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("batchsystem: parsing trace %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("batchsystem: trace %s has no header row", path)
	}

	col, err := columnIndex(rows[0])
	if err != nil {
		return nil, err
	}

	future := make([]*domain.Job, 0, len(rows)-1)
	for i, row := range rows[1:] {
		job, err := parseTraceRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("batchsystem: trace %s row %d: %w", path, i+2, err)
		}
		if job.SubmittedAt.Before(startTime) {
			continue
		}
		future = append(future, job)
	}
	sort.Slice(future, func(i, j int) bool {
		return future[i].SubmittedAt.Before(future[j].SubmittedAt)
	})

	return &Replay{clock: clock, future: future}, nil
}

func sniffDelimiter(headerLine string) rune {
	candidates := []rune{',', ';', '\t', '|'}
	best, bestCount := ',', -1
	for _, c := range candidates {
		n := strings.Count(headerLine, string(c))
		if n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func columnIndex(header []string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "#")))] = i
	}
	for _, want := range requiredColumns {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("batchsystem: trace is missing required column %s", want)
		}
	}
	return col, nil
}

func parseTraceRow(row []string, col map[string]int) (*domain.Job, error) {
	field := func(name string) (string, bool) {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[idx]), true
	}

	jobID, ok := field("JOBID")
	if !ok || jobID == "" {
		return nil, fmt.Errorf("empty JOBID")
	}

	submittedRaw, ok := field("SUBMITTED_AT")
	if !ok {
		return nil, fmt.Errorf("missing SUBMITTED_AT")
	}
	submittedEpoch, err := strconv.ParseFloat(submittedRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SUBMITTED_AT %q: %w", submittedRaw, err)
	}

	durationRaw, ok := field("RUN_DURATION")
	if !ok {
		return nil, fmt.Errorf("missing RUN_DURATION")
	}
	duration, err := strconv.ParseFloat(durationRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_DURATION %q: %w", durationRaw, err)
	}

	job := &domain.Job{
		JobID:       jobID,
		State:       domain.JobPending,
		SubmittedAt: time.Unix(int64(submittedEpoch), 0).UTC(),
		Duration:    duration,
	}
	if name, ok := field("NAME"); ok {
		job.Name = name
	}
	return job, nil
}

// StartTime returns the submission time of the earliest job still waiting in
// the trace, or the zero time if the trace is empty. The Simulator anchors
// its virtual clock here when no explicit starting time is configured.
func (r *Replay) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.future) == 0 {
		return time.Time{}
	}
	return r.future[0].SubmittedAt
}

// Snapshot releases any trace rows now due and evicts any active job whose
// SubmittedAt+Duration has passed, then returns the live active set. The
// returned slice shares storage with Replay's internal bookkeeping, so a
// caller such as the Simulator may mutate a *domain.Job's State/RunningAt/
// ExecNodeName in place and see that reflected on the next Snapshot call.
func (r *Replay) Snapshot(_ context.Context) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()

	for len(r.future) > 0 && !r.future[0].SubmittedAt.After(now) {
		r.active = append(r.active, r.future[0])
		r.future = r.future[1:]
	}

	kept := r.active[:0]
	for _, job := range r.active {
		deadline := job.SubmittedAt.Add(time.Duration(job.Duration * float64(time.Second)))
		if deadline.Before(now) {
			continue
		}
		kept = append(kept, job)
	}
	r.active = kept

	out := make([]*domain.Job, len(r.active))
	copy(out, r.active)
	return out, nil
}

// Remove evicts jobID from the active set immediately, e.g. when the
// Simulator has decided a job finished its assigned run before the trace's
// own submitted_at+duration deadline would have expired it.
func (r *Replay) Remove(jobID string) {
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

// Exhausted reports whether the trace has no more jobs to release and no
// active jobs remain, i.e. there is nothing left for this BatchSystem to
// ever report again. The Simulator uses this as its termination condition.
func (r *Replay) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.future) == 0 && len(r.active) == 0
}
