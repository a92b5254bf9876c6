// Package checkpoint persists an optional best-effort snapshot of
// orchestrator state so a restarted daemon can resume roughly where it left
// off instead of forgetting every in-flight VM. Best-effort means a missing
// or corrupt checkpoint is never fatal, only a cold start.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// VmRecord is the persisted shape of a domain.Vm. It is a distinct type
// from domain.Vm (rather than reusing its JSON tags) because a checkpoint
// is a trusted, internal artifact and needs fields such as Auth that
// domain.Vm deliberately omits from its own json tags.
type VmRecord struct {
	VmID        string   `json:"vm_id"`
	Auth        string   `json:"auth"`
	State       string   `json:"state"`
	Nodename    string   `json:"nodename,omitempty"`
	Jobs        []string `json:"jobs,omitempty"`
	RunningTime float64  `json:"running_time_seconds"`
	TotalIdle   float64  `json:"total_idle_seconds"`
}

// JobRecord is the persisted shape of a domain.Job.
type JobRecord struct {
	JobID        string  `json:"job_id"`
	State        string  `json:"state"`
	Name         string  `json:"name,omitempty"`
	ExecNodeName string  `json:"exec_node_name,omitempty"`
	Duration     float64 `json:"duration_seconds,omitempty"`
}

// Snapshot is the full persisted state of one orchestrator instance at a
// point in time.
type Snapshot struct {
	Cycle    int         `json:"cycle"`
	SavedAt  time.Time   `json:"saved_at"`
	Vms      []VmRecord  `json:"vms"`
	Jobs     []JobRecord `json:"jobs"`
	NextVmID uint64      `json:"next_vm_id"`
}

// Store saves and loads a single named checkpoint. Implementations must
// tolerate Load being called against a backend that has never been written
// to (return nil, nil rather than an error).
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

func marshal(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func unmarshal(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
