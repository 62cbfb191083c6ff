package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coinflow-io/coinflow/pkg/executor"
	"github.com/coinflow-io/coinflow/pkg/partition"
)

// SetupServer sets up the HTTP control surface.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.HandleHealth).Methods("GET")
	r.HandleFunc("/jobs", a.HandleJobs).Methods("GET")
	r.HandleFunc("/jobs/{name}/run", a.HandleRunJob).Methods("POST")
	r.HandleFunc("/jobs/{name}/backfill", a.HandleBackfill).Methods("POST")
	r.HandleFunc("/runs/latest", a.HandleLatestRuns).Methods("GET")

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	a.Server = &http.Server{Addr: a.Config.Addr, Handler: r}
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Store.CountCoins(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "store connection error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Nodes       []string `json:"nodes"`
}

// HandleJobs lists each job with the nodes it resolves to, in run order.
func (a *App) HandleJobs(w http.ResponseWriter, _ *http.Request) {
	out := make([]jobInfo, 0, len(a.Jobs))
	for _, job := range a.Assets.Jobs() {
		nodes, err := a.Graph.Resolve(job)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		info := jobInfo{Name: job.Name, Description: job.Description, Nodes: make([]string, len(nodes))}
		for i, n := range nodes {
			info.Nodes[i] = n.Name
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleRunJob runs a job synchronously. The optional partition query
// parameter pins the run to one partition key; without it, partitioned
// nodes run their current partition.
func (a *App) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	job, ok := a.Jobs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name})
		return
	}

	var key *partition.Key
	if raw := r.URL.Query().Get("partition"); raw != "" {
		k := partition.Key(raw)
		if job.Scheme != nil {
			if _, err := job.Scheme.Parse(k); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		key = &k
	}

	result, err := a.Runner.RunJob(r.Context(), job, key)
	if result != nil {
		a.lastRuns.Store(name, result)
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleBackfill runs a partitioned job once per key in [from, to],
// inclusive. Runs are sequential and idempotent; a failed partition does not
// stop the remaining ones.
func (a *App) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	job, ok := a.Jobs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name})
		return
	}
	if job.Scheme == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job " + name + " is not partitioned"})
		return
	}

	from, err := job.Scheme.Parse(partition.Key(r.URL.Query().Get("from")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from: " + err.Error()})
		return
	}
	to, err := job.Scheme.Parse(partition.Key(r.URL.Query().Get("to")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to: " + err.Error()})
		return
	}

	keys, err := job.Scheme.KeysInRange(from, to)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	results := make([]*executor.RunResult, 0, len(keys))
	for _, key := range keys {
		key := key
		result, err := a.Runner.RunJob(r.Context(), job, &key)
		if result != nil {
			a.lastRuns.Store(name, result)
			results = append(results, result)
		}
		if err != nil {
			// Context cancellation or a configuration error; report what ran.
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "results": results})
			return
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleLatestRuns reports the most recent result of every job that ran
// since startup.
func (a *App) HandleLatestRuns(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]*executor.RunResult)
	a.lastRuns.Range(func(job string, res *executor.RunResult) bool {
		out[job] = res
		return true
	})
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
