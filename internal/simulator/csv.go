package simulator

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cloudburst/vmmad/internal/logging"
)

// rowWriter emits the simulation output CSV: one row per cycle, header
// "#TimeStamp,Pending Jobs,Running Jobs,Started VMs,Idle VMS". A zero-value
// rowWriter (created via newRowWriter("")) discards every row, so the
// Simulator can run without tracing output for tests.
type rowWriter struct {
	f *os.File
	w *csv.Writer
}

func newRowWriter(path string) (*rowWriter, error) {
	if path == "" {
		return &rowWriter{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("simulator: creating output file %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"#TimeStamp", "Pending Jobs", "Running Jobs", "Started VMs", "Idle VMS"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("simulator: writing header: %w", err)
	}
	return &rowWriter{f: f, w: w}, nil
}

func (r *rowWriter) WriteRow(ts time.Time, pending, running, started, idle int) {
	if r.w == nil {
		return
	}
	row := []string{
		strconv.FormatInt(ts.Unix(), 10),
		strconv.Itoa(pending),
		strconv.Itoa(running),
		strconv.Itoa(started),
		strconv.Itoa(idle),
	}
	if err := r.w.Write(row); err != nil {
		logging.Op().Error("simulator: writing output row", "err", err)
	}
}

func (r *rowWriter) Close() {
	if r.w == nil {
		return
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		logging.Op().Error("simulator: flushing output", "err", err)
	}
	r.f.Close()
}
