package batchsystem

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func writeTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplayReleasesJobsOverTime(t *testing.T) {
	path := writeTrace(t, "JOBID,SUBMITTED_AT,RUN_DURATION\n2,100,400\n1,0,300\n")
	clock := &testClock{t: time.Unix(0, 0).UTC()}

	r, err := NewReplay(path, clock.Now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.StartTime(); !got.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("StartTime() = %v, want unix 0 (rows sorted by submission)", got)
	}

	jobs, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "1" {
		t.Fatalf("at t=0 want only job 1, got %d jobs", len(jobs))
	}

	clock.Set(time.Unix(100, 0).UTC())
	jobs, _ = r.Snapshot(context.Background())
	if len(jobs) != 2 {
		t.Fatalf("at t=100 want both jobs, got %d", len(jobs))
	}

	// t=301: job 1 passed submitted_at+duration and is expired; job 2 remains.
	clock.Set(time.Unix(301, 0).UTC())
	jobs, _ = r.Snapshot(context.Background())
	if len(jobs) != 1 || jobs[0].JobID != "2" {
		t.Fatalf("at t=301 want only job 2, got %d jobs", len(jobs))
	}

	r.Remove("2")
	jobs, _ = r.Snapshot(context.Background())
	if len(jobs) != 0 {
		t.Fatalf("after Remove want no jobs, got %d", len(jobs))
	}
	if !r.Exhausted() {
		t.Error("replay should be exhausted")
	}
}

func TestReplayDelimiterSniffing(t *testing.T) {
	tests := []struct {
		name  string
		trace string
	}{
		{"semicolon", "JOBID;SUBMITTED_AT;RUN_DURATION\nj1;0;60\n"},
		{"tab", "JOBID\tSUBMITTED_AT\tRUN_DURATION\nj1\t0\t60\n"},
		{"comma with extra columns", "NAME,JOBID,SUBMITTED_AT,RUN_DURATION,QUEUE\ncloud-x,j1,0,60,all.q\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &testClock{t: time.Unix(10, 0).UTC()}
			r, err := NewReplay(writeTrace(t, tt.trace), clock.Now, time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			jobs, err := r.Snapshot(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(jobs) != 1 || jobs[0].JobID != "j1" {
				t.Fatalf("want job j1, got %v jobs", len(jobs))
			}
		})
	}
}

func TestReplayCaseInsensitiveHeader(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0).UTC()}
	r, err := NewReplay(writeTrace(t, "jobid,submitted_at,run_duration\nj1,0,60\n"), clock.Now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	jobs, _ := r.Snapshot(context.Background())
	if len(jobs) != 1 {
		t.Fatalf("want 1 job, got %d", len(jobs))
	}
}

func TestReplayMissingColumn(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0).UTC()}
	_, err := NewReplay(writeTrace(t, "JOBID,SUBMITTED_AT\nj1,0\n"), clock.Now, time.Time{})
	if err == nil {
		t.Fatal("want error for trace missing RUN_DURATION")
	}
}

func TestReplayStartTimeFilter(t *testing.T) {
	clock := &testClock{t: time.Unix(500, 0).UTC()}
	r, err := NewReplay(
		writeTrace(t, "JOBID,SUBMITTED_AT,RUN_DURATION\nold,0,60\nnew,400,600\n"),
		clock.Now, time.Unix(100, 0).UTC())
	if err != nil {
		t.Fatal(err)
	}
	jobs, _ := r.Snapshot(context.Background())
	if len(jobs) != 1 || jobs[0].JobID != "new" {
		t.Fatalf("rows before the start time should be discarded, got %d jobs", len(jobs))
	}
}
