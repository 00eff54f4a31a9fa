package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autolyrix/aligntrack/internal/engine"
	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
	"github.com/autolyrix/aligntrack/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs. Audio is metadata
// only; the actual bytes never pass through this service.
type createJobRequest struct {
	Lyrics    string `json:"lyrics"`
	Format    string `json:"format"`
	SongTitle string `json:"song_title"`
	AudioName string `json:"audio_name"`
	AudioSize int64  `json:"audio_size"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// artifactsResponse is the JSON response for GET /v1/jobs/{id}/artifacts.
type artifactsResponse struct {
	JobID     string           `json:"job_id"`
	Artifacts []model.Artifact `json:"artifacts"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Lyrics == "" {
		s.writeError(w, http.StatusBadRequest, "lyrics is required")
		return
	}
	if req.Format == "" {
		req.Format = model.FormatLRC
	}
	if !model.ValidFormat(req.Format) {
		s.writeError(w, http.StatusBadRequest, "format must be one of lrc, json, srt")
		return
	}

	// Oversized lyrics are truncated, not rejected: the remote transport
	// has a hard payload ceiling.
	lyrics := model.TruncateLyrics(req.Lyrics, model.MaxLyricsBytes)

	now := time.Now().UTC()
	j := &model.Job{
		ID:          model.NewID(),
		State:       model.StateStarting,
		Format:      req.Format,
		SongTitle:   req.SongTitle,
		LyricsChars: len(lyrics),
		AudioName:   req.AudioName,
		AudioSize:   req.AudioSize,
		CreatedAt:   now,
	}

	payload := remote.DispatchPayload{
		JobID:     j.ID,
		Lyrics:    lyrics,
		AudioName: req.AudioName,
		AudioSize: req.AudioSize,
		Format:    req.Format,
		Timestamp: now.Format(time.RFC3339),
	}

	if err := s.engine.Submit(r.Context(), j, payload); err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job for artifacts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	artifacts, err := s.store.GetArtifacts(r.Context(), id)
	if err != nil {
		s.logger.Error("get artifacts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []model.Artifact{}
	}

	s.writeJSON(w, http.StatusOK, artifactsResponse{
		JobID:     id,
		Artifacts: artifacts,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for cancel", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if model.IsTerminal(j.State) {
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}

	if err := s.engine.Cancel(id); err != nil && !errors.Is(err, engine.ErrNotActive) {
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	j, err = s.store.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("get cancelled job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	s.writeJSON(w, http.StatusOK, j)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
