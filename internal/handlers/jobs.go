package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/tasks"
)

// JobStartResponse is returned by every job-starting endpoint. JobID is
// the existing job when one of the same type is already active.
type JobStartResponse struct {
	Message string `json:"message"`
	JobID   *int64 `json:"job_id"`
}

// StalledJob describes a job failed by the stalled sweep.
type StalledJob struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Progress string `json:"progress"`
}

// startJob submits a job of jobType and reports whether it was created or
// already running. label prefixes the message ("Indexing job started").
func (h *Handlers) startJob(w http.ResponseWriter, r *http.Request, jobType, label string, params any) {
	h.submit(w, r, jobType, params, label+" job started", label+" job already running")
}

// submit starts a job and writes started or running as the message.
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, jobType string, params any, started, running string) {
	job, created, err := h.runner.Submit(r.Context(), jobType, params)
	if errors.Is(err, jobs.ErrQueueFull) {
		writeDetail(w, http.StatusServiceUnavailable, "Job queue is full, try again later")
		return
	}
	if err != nil {
		writeError(w, err, "")
		return
	}

	msg := started
	if !created {
		msg = running
	}
	respond(w, http.StatusOK, JobStartResponse{Message: msg, JobID: &job.ID})
}

// GetJob returns one job.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	job, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, job)
}

// ListJobs lists jobs newest first, filtered by job_type and status.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if limit < 1 {
		writeDetail(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	q := r.URL.Query()
	list, err := h.ledger.List(r.Context(), database.JobFilter{
		Type:   q.Get("job_type"),
		Status: database.JobStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}
	if list == nil {
		list = []database.Job{}
	}
	respond(w, http.StatusOK, list)
}

// CancelJob cancels a pending job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if err := h.ledger.Cancel(r.Context(), id); err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}

// ForceKillJob marks a running job failed. The work itself keeps running
// until it notices nothing; its result is discarded.
func (h *Handlers) ForceKillJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	job, err := h.ledger.ForceKill(r.Context(), id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Job %d force-killed", id),
		"job":     job,
	})
}

// ForceKillStalled fails every running job older than the stall window.
func (h *Handlers) ForceKillStalled(w http.ResponseWriter, r *http.Request) {
	killed, err := h.ledger.ForceKillStalled(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	if len(killed) == 0 {
		respond(w, http.StatusOK, map[string]string{"message": "No stalled jobs found"})
		return
	}

	out := make([]StalledJob, 0, len(killed))
	for _, j := range killed {
		out = append(out, StalledJob{
			ID:       j.ID,
			Type:     j.Type,
			Progress: fmt.Sprintf("%d/%d", j.ProcessedItems, j.TotalItems),
		})
	}
	respond(w, http.StatusOK, map[string]any{
		"message":     fmt.Sprintf("Force-killed %d stalled jobs", len(killed)),
		"killed_jobs": out,
	})
}

// StartIndexing starts a library scan.
func (h *Handlers) StartIndexing(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, tasks.TypeIndexing, "Indexing", nil)
}

// StartThumbnails starts thumbnail generation; force_regenerate rebuilds
// existing thumbnails.
func (h *Handlers) StartThumbnails(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force_regenerate")
	if err != nil {
		writeError(w, err, "")
		return
	}
	h.startJob(w, r, tasks.TypeThumbnails, "Thumbnail", tasks.ThumbnailParams{ForceRegenerate: force})
}

// StartTagging tags the given images, or every untagged image when the
// body names none.
func (h *Handlers) StartTagging(w http.ResponseWriter, r *http.Request) {
	var req ImageIDsRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, err, "")
		return
	}
	params := tasks.TaggingParams{ImageIDs: req.ImageIDs, AllUntagged: len(req.ImageIDs) == 0}
	h.startJob(w, r, tasks.TypeTagging, "Tagging", params)
}

// StartRefreshExif re-reads camera metadata for every image.
func (h *Handlers) StartRefreshExif(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, tasks.TypeRefreshExif, "EXIF refresh", nil)
}

// StartCleanupOrphaned removes records whose files are gone.
func (h *Handlers) StartCleanupOrphaned(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, tasks.TypeCleanupOrphaned, "Cleanup", nil)
}
