package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/autolyrix/aligntrack/internal/engine"
	"github.com/autolyrix/aligntrack/internal/model"
)

func TestStreamEventsTerminalJob(t *testing.T) {
	srv, s := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(`{"lyrics":"la","format":"lrc"}`))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	var j model.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	waitForState(t, s, j.ID, model.StateCompleted, 2*time.Second)

	resp, err = http.Get(ts.URL + "/v1/jobs/" + j.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	var snapshot *engine.ProgressEvent
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: done") {
			sawDone = true
		}
		if strings.HasPrefix(line, "data: {") {
			var ev engine.ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			snapshot = &ev
		}
	}

	if snapshot == nil {
		t.Fatal("no progress snapshot received")
	}
	if snapshot.State != model.StateCompleted || snapshot.Progress != 100 {
		t.Errorf("snapshot = %s/%d, want completed/100", snapshot.State, snapshot.Progress)
	}
	if !sawDone {
		t.Error("stream did not end with a done event")
	}
}

func TestStreamEventsLiveJob(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(`{"lyrics":"la","format":"srt"}`))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	var j model.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	// Subscribe right away and read until the stream closes.
	resp, err = http.Get(ts.URL + "/v1/jobs/" + j.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	var events []engine.ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: {") {
			var ev engine.ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			events = append(events, ev)
		}
	}

	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.State != model.StateCompleted || last.Progress != 100 {
		t.Errorf("final event = %s/%d, want completed/100", last.State, last.Progress)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Progress < events[i-1].Progress {
			t.Errorf("progress regressed: %d after %d", events[i].Progress, events[i-1].Progress)
		}
	}
}

func TestStreamEventsJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/01JA0000000000000000000000/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
