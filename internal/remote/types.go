package remote

import "time"

// Run status constants as reported by the dispatch service.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run is a snapshot of one execution of the remote pipeline. Conclusion is
// empty until Status is completed.
type Run struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	HTMLURL      string    `json:"html_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// Terminal reports whether the run has reached its final status.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted
}

// Artifact is the metadata of one output file produced by a run.
type Artifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	CreatedAt          time.Time `json:"created_at"`
}

// DispatchPayload is the client_payload body of a dispatch request. JobID
// tags the payload so the remote workflow can echo it into its run name,
// which correlation prefers over timestamp proximity.
type DispatchPayload struct {
	JobID     string `json:"job_id"`
	Lyrics    string `json:"lyrics"`
	AudioName string `json:"audio_name,omitempty"`
	AudioSize int64  `json:"audio_size,omitempty"`
	Format    string `json:"format"`
	Timestamp string `json:"timestamp"`
}

// listRunsResponse mirrors the service's run list envelope.
type listRunsResponse struct {
	TotalCount   int   `json:"total_count"`
	WorkflowRuns []Run `json:"workflow_runs"`
}

// listArtifactsResponse mirrors the service's artifact list envelope.
type listArtifactsResponse struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

// dispatchRequest is the body of POST /repos/{owner}/{repo}/dispatches.
type dispatchRequest struct {
	EventType     string          `json:"event_type"`
	ClientPayload DispatchPayload `json:"client_payload"`
}
