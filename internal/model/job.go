package model

import (
	"time"
	"unicode/utf8"
)

// Job state constants.
const (
	StateStarting    = "starting"
	StateDispatched  = "dispatched"
	StateCorrelating = "correlating"
	StatePolling     = "polling"
	StateCompleted   = "completed"
	StateFailed      = "failed"
	StateTimedOut    = "timed_out"
	StateCancelled   = "cancelled"
)

// Output format constants, matching the remote pipeline's supported formats.
const (
	FormatLRC  = "lrc"
	FormatJSON = "json"
	FormatSRT  = "srt"
)

// Remote run conclusion constants.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
)

// MaxLyricsBytes is the ceiling on lyrics text sent in a dispatch payload.
// Longer texts are truncated before send rather than rejected.
const MaxLyricsBytes = 48 * 1024

// validTransitions maps each job state to the set of states it may
// transition to. Terminal states have no entries: once a job completes,
// fails, times out, or is cancelled it stays there until an explicit reset.
var validTransitions = map[string]map[string]bool{
	StateStarting: {
		StateDispatched: true,
		StateFailed:     true,
		StateCancelled:  true,
	},
	StateDispatched: {
		StateCorrelating: true,
		StateFailed:      true,
		StateTimedOut:    true,
		StateCancelled:   true,
	},
	StateCorrelating: {
		StatePolling:   true,
		StateFailed:    true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
	StatePolling: {
		StateCompleted: true,
		StateFailed:    true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether the given state is terminal.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatLRC, FormatJSON, FormatSRT:
		return true
	}
	return false
}

// Job represents a single lyrics-alignment request tracked through the
// remote pipeline. State is derived client-side from repeated run snapshots;
// the remote service never reports it directly.
type Job struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	Format       string     `json:"format"`
	SongTitle    string     `json:"song_title,omitempty"`
	LyricsChars  int        `json:"lyrics_chars"`
	AudioName    string     `json:"audio_name,omitempty"`
	AudioSize    int64      `json:"audio_size,omitempty"`
	RunID        *int64     `json:"run_id,omitempty"`
	RunURL       string     `json:"run_url,omitempty"`
	Conclusion   string     `json:"conclusion,omitempty"`
	Error        string     `json:"error,omitempty"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CorrelatedAt *time.Time `json:"correlated_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Artifact is a named output file reference produced by a completed run.
// Only metadata is tracked; the bytes live behind an authenticated download URL.
type Artifact struct {
	ID                 int64     `json:"id"`
	JobID              string    `json:"job_id"`
	Name               string    `json:"name"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	SizeBytes          int64     `json:"size_bytes"`
	Expired            bool      `json:"expired"`
	CreatedAt          time.Time `json:"created_at"`
}

// TruncateLyrics caps s at max bytes without splitting a UTF-8 sequence.
func TruncateLyrics(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
