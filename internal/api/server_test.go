package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/autolyrix/aligntrack/internal/engine"
	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
	"github.com/autolyrix/aligntrack/internal/store"
	"github.com/autolyrix/aligntrack/internal/tracker"
)

// stubAPI is a dispatch service double whose runs complete successfully
// shortly after dispatch.
type stubAPI struct {
	mu           sync.Mutex
	dispatchedAt time.Time
	completeIn   time.Duration
	conclusion   string
	artifacts    []remote.Artifact
}

func (f *stubAPI) Dispatch(_ context.Context, _ remote.DispatchPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchedAt = time.Now()
	return nil
}

func (f *stubAPI) snapshot() *remote.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &remote.Run{ID: 42, Name: "align", Status: remote.StatusInProgress, CreatedAt: f.dispatchedAt}
	if time.Since(f.dispatchedAt) >= f.completeIn {
		run.Status = remote.StatusCompleted
		run.Conclusion = f.conclusion
	}
	return run
}

func (f *stubAPI) ListRuns(_ context.Context, _ time.Time) ([]remote.Run, error) {
	return []remote.Run{*f.snapshot()}, nil
}

func (f *stubAPI) GetRun(_ context.Context, _ int64) (*remote.Run, error) {
	return f.snapshot(), nil
}

func (f *stubAPI) ListArtifacts(_ context.Context, _ int64) ([]remote.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artifacts, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	return newTestServerWithAPI(t, &stubAPI{
		completeIn: 20 * time.Millisecond,
		conclusion: model.ConclusionSuccess,
		artifacts:  []remote.Artifact{{ID: 7, Name: "lrc_output", SizeInBytes: 2048}},
	})
}

func newTestServerWithAPI(t *testing.T, api remote.API) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts := tracker.Options{
		PollInterval:    5 * time.Millisecond,
		MaxWait:         2 * time.Second,
		CorrelateBudget: time.Second,
		WindowBefore:    time.Second,
		WindowAfter:     time.Second,
	}
	eng := engine.NewEngine(s, api, logger, opts)
	t.Cleanup(eng.Wait)

	return NewServer(":0", s, eng, logger), s
}

// waitForState polls the store until the job reaches the expected state.
func waitForState(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.State == expected {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %q within %v", id, expected, timeout)
	return nil
}

func TestPanicRecovery(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 from Recoverer", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/jobs", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "https://autolyrix.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Error("metrics body is empty")
	}
}
