package handlers

import (
	"net/http"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/metrics"
)

// StatsResponse is the library summary returned by GetStats.
type StatsResponse struct {
	metrics.Stats
	SchemaVersion int                   `json:"schema_version"`
	Capabilities  database.Capabilities `json:"capabilities"`
	RunningJobs   int                   `json:"running_jobs"`
}

// GetStats returns library counts and schema information.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.LibraryStats(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	running, err := h.ledger.List(r.Context(), database.JobFilter{Status: database.JobRunning})
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, StatsResponse{
		Stats:         stats,
		SchemaVersion: h.db.SchemaVersion(),
		Capabilities:  h.db.Capabilities(),
		RunningJobs:   len(running),
	})
}

// ListBlacklist returns purged fingerprints, newest first, optionally
// filtered by a filename substring.
func (h *Handlers) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if limit < 1 {
		writeDetail(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	entries, err := h.db.ListPurged(r.Context(), r.URL.Query().Get("filename"), limit)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if entries == nil {
		entries = []database.PurgedImage{}
	}
	respond(w, http.StatusOK, entries)
}

// PurgeOneStar blacklists and deletes every one-star image.
func (h *Handlers) PurgeOneStar(w http.ResponseWriter, r *http.Request) {
	result, err := h.duplicates.PurgeOneStar(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, result)
}
