// mockdispatch fakes the remote workflow service for local development.
// It accepts repository dispatches, spawns a synthetic run per dispatch
// that walks queued -> in_progress -> completed, and serves run and
// artifact listings sliced the way the real service does.
// Usage: go run ./cmd/mockdispatch
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type mockRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion,omitempty"`
	HTMLURL      string    `json:"html_url"`
	CreatedAt    time.Time `json:"created_at"`
}

type mockArtifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	CreatedAt          time.Time `json:"created_at"`
}

type dispatchBody struct {
	EventType     string `json:"event_type"`
	ClientPayload struct {
		JobID  string `json:"job_id"`
		Format string `json:"format"`
	} `json:"client_payload"`
}

// runStore holds the synthetic runs behind a mutex. Runs advance through
// their lifecycle on timers started at dispatch time.
type runStore struct {
	mu        sync.Mutex
	nextRunID int64
	runs      map[int64]*mockRun
	artifacts map[int64][]mockArtifact

	queueDelay time.Duration
	runTime    time.Duration
	conclusion string
}

func newRunStore(queueDelay, runTime time.Duration, conclusion string) *runStore {
	return &runStore{
		nextRunID:  1000,
		runs:       make(map[int64]*mockRun),
		artifacts:  make(map[int64][]mockArtifact),
		queueDelay: queueDelay,
		runTime:    runTime,
		conclusion: conclusion,
	}
}

func (rs *runStore) dispatch(jobID, format string) *mockRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.nextRunID++
	id := rs.nextRunID
	run := &mockRun{
		ID:           id,
		Name:         "Align Lyrics",
		DisplayTitle: fmt.Sprintf("Align Lyrics (%s)", jobID),
		Status:       "queued",
		HTMLURL:      fmt.Sprintf("http://localhost/runs/%d", id),
		CreatedAt:    time.Now().UTC(),
	}
	rs.runs[id] = run

	go rs.advance(id, format)
	return run
}

func (rs *runStore) advance(id int64, format string) {
	time.Sleep(rs.queueDelay)
	rs.setStatus(id, "in_progress", "")

	time.Sleep(rs.runTime)
	rs.setStatus(id, "completed", rs.conclusion)

	if rs.conclusion == "success" {
		rs.mu.Lock()
		rs.artifacts[id] = []mockArtifact{{
			ID:                 id*10 + 1,
			Name:               format + "_output",
			SizeInBytes:        4096,
			ArchiveDownloadURL: fmt.Sprintf("http://localhost/artifacts/%d", id*10+1),
			CreatedAt:          time.Now().UTC(),
		}}
		rs.mu.Unlock()
	}
}

func (rs *runStore) setStatus(id int64, status, conclusion string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if run, ok := rs.runs[id]; ok {
		run.Status = status
		run.Conclusion = conclusion
	}
}

func (rs *runStore) list() []mockRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]mockRun, 0, len(rs.runs))
	for _, run := range rs.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (rs *runStore) get(id int64) (*mockRun, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	run, ok := rs.runs[id]
	if !ok {
		return nil, false
	}
	cp := *run
	return &cp, true
}

func (rs *runStore) getArtifacts(id int64) []mockArtifact {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.artifacts[id]
}

func main() {
	addr := ":9090"
	if v := os.Getenv("MOCKDISPATCH_ADDR"); v != "" {
		addr = v
	}
	conclusion := "success"
	if v := os.Getenv("MOCKDISPATCH_CONCLUSION"); v != "" {
		conclusion = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rs := newRunStore(2*time.Second, 8*time.Second, conclusion)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/repos/{owner}/{repo}/dispatches", func(w http.ResponseWriter, req *http.Request) {
		var body dispatchBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"message":"invalid payload"}`, http.StatusUnprocessableEntity)
			return
		}
		run := rs.dispatch(body.ClientPayload.JobID, body.ClientPayload.Format)
		logger.Info("dispatch accepted",
			"event_type", body.EventType,
			"job_id", body.ClientPayload.JobID,
			"run_id", run.ID,
		)
		// The real endpoint returns no body and no run handle.
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/repos/{owner}/{repo}/actions/runs", func(w http.ResponseWriter, req *http.Request) {
		runs := rs.list()
		writeJSON(w, map[string]any{
			"total_count":   len(runs),
			"workflow_runs": runs,
		})
	})

	r.Get("/repos/{owner}/{repo}/actions/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"message":"bad run id"}`, http.StatusBadRequest)
			return
		}
		run, ok := rs.get(id)
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, run)
	})

	r.Get("/repos/{owner}/{repo}/actions/runs/{id}/artifacts", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"message":"bad run id"}`, http.StatusBadRequest)
			return
		}
		arts := rs.getArtifacts(id)
		writeJSON(w, map[string]any{
			"total_count": len(arts),
			"artifacts":   arts,
		})
	})

	logger.Info("mockdispatch: starting", "addr", addr, "conclusion", conclusion)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
