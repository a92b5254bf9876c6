// Package web implements the orchestrator's minimal HTTP surface: the VM
// self-registration callback and a read-only status page.
package web

import (
	"html/template"
	"net/http"

	"github.com/cloudburst/vmmad/internal/logging"
	"github.com/cloudburst/vmmad/internal/metrics"
	"github.com/cloudburst/vmmad/internal/orchestrator"
)

// Handler serves the orchestrator's HTTP surface.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
}

// RegisterRoutes registers the ready callback, status page, and metrics
// endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /x/ready", h.Ready)
	mux.HandleFunc("GET /", h.Status)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Ready handles GET /x/ready?auth=&hostname=, promoting a STARTING VM to
// READY. It does not perform any authorization beyond the per-VM auth
// token.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	auth := r.URL.Query().Get("auth")
	hostname := r.URL.Query().Get("hostname")

	if auth == "" || hostname == "" {
		http.Error(w, "missing required parameter: auth and hostname are both required", http.StatusBadRequest)
		return
	}

	if !h.Orchestrator.VmIsReady(auth, hostname) {
		http.Error(w, "unknown auth", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		logging.Op().Error("writing ready response", "err", err)
	}
}

// Status handles GET / with a human-readable page: completed cycle count,
// per-state VM counts, and a table with a manual "mark ready" link for any
// VM still in STARTING.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	status := h.Orchestrator.Status()
	data := statusPageData{
		Cycle:      status.Cycle,
		JobCount:   status.JobCount,
		Candidates: status.Candidates,
		ByState:    make(map[string]int),
	}
	for _, vm := range status.Vms {
		data.ByState[string(vm.State)]++
		row := vmRow{
			VmID:     vm.VmID,
			State:    string(vm.State),
			Nodename: vm.Nodename,
			Jobs:     vm.Jobs,
		}
		if vm.State == "STARTING" {
			row.MarkReadyURL = "/x/ready?auth=" + vm.Auth + "&hostname=vm-" + vm.VmID
		} else if row.Nodename == "" {
			row.Nodename = "unknown"
		}
		data.Vms = append(data.Vms, row)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPageTemplate.Execute(w, data); err != nil {
		logging.Op().Error("rendering status page", "err", err)
	}
}

type vmRow struct {
	VmID         string
	State        string
	Nodename     string
	Jobs         int
	MarkReadyURL string
}

type statusPageData struct {
	Cycle      int
	JobCount   int
	Candidates int
	ByState    map[string]int
	Vms        []vmRow
}

var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>vmmad orchestrator</title></head>
<body>
<h1>Orchestrator status</h1>
<p>Completed cycles: {{.Cycle}}</p>
<p>Tracked jobs: {{.JobCount}} ({{.Candidates}} cloud candidates)</p>
<h2>VMs by state</h2>
<ul>
{{range $state, $count := .ByState}}<li>{{$state}}: {{$count}}</li>
{{end}}</ul>
<h2>VMs</h2>
<table border="1" cellpadding="4">
<tr><th>VM ID</th><th>State</th><th>Nodename</th><th>Jobs</th><th></th></tr>
{{range .Vms}}<tr>
<td>{{.VmID}}</td><td>{{.State}}</td><td>{{.Nodename}}</td><td>{{.Jobs}}</td>
<td>{{if .MarkReadyURL}}<a href="{{.MarkReadyURL}}">mark ready</a>{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))
