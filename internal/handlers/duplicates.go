package handlers

import (
	"fmt"
	"net/http"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/tasks"
)

// PairsRequest carries image id pairs for the ignore registry.
type PairsRequest struct {
	Pairs [][2]int64 `json:"pairs"`
}

// ImageIDsRequest carries a set of image ids.
type ImageIDsRequest struct {
	ImageIDs []int64 `json:"image_ids"`
}

// MergeDeleteRequest names the image to keep and the duplicates to fold
// into it.
type MergeDeleteRequest struct {
	KeeperID     int64   `json:"keeper_id"`
	DuplicateIDs []int64 `json:"duplicate_ids"`
}

// FindDuplicates returns clusters of visually similar images, largest first.
func (h *Handlers) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	opts, err := searchOptions(r)
	if err != nil {
		writeError(w, err, "")
		return
	}

	clusters, err := h.duplicates.FindClusters(r.Context(), opts)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if clusters == nil {
		clusters = []duplicates.ClusterView{}
	}
	respond(w, http.StatusOK, clusters)
}

func searchOptions(r *http.Request) (duplicates.SearchOptions, error) {
	def := duplicates.DefaultSearchOptions()
	threshold, err := queryInt(r, "threshold", def.Threshold)
	if err != nil {
		return def, err
	}
	prefixBits, err := queryInt(r, "prefix_bits", def.PrefixBits)
	if err != nil {
		return def, err
	}
	limit, err := queryInt(r, "limit", def.Limit)
	if err != nil {
		return def, err
	}
	switch {
	case threshold < 0:
		return def, invalid("threshold must not be negative")
	case prefixBits < 0:
		return def, invalid("prefix_bits must not be negative")
	case limit < 1:
		return def, invalid("limit must be positive")
	}
	return duplicates.SearchOptions{Threshold: threshold, PrefixBits: prefixBits, Limit: limit}, nil
}

// ComputePhash starts the batch fingerprint job. Without the fingerprint
// column it does nothing and reports a null job id.
func (h *Handlers) ComputePhash(w http.ResponseWriter, r *http.Request) {
	if !h.db.Capabilities().SupportsFingerprint {
		respond(w, http.StatusOK, map[string]any{
			"message": "Perceptual hash column not available; run database migrations first",
			"job_id":  nil,
		})
		return
	}
	recompute, err := queryBool(r, "recompute")
	if err != nil {
		writeError(w, err, "")
		return
	}
	h.startJob(w, r, tasks.TypePhash, "Phash", tasks.PhashParams{Recompute: recompute})
}

// IgnorePairs marks pairs as not duplicates.
func (h *Handlers) IgnorePairs(w http.ResponseWriter, r *http.Request) {
	var req PairsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	n, err := h.duplicates.IgnorePairs(r.Context(), req.Pairs)
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Ignored %d pairs", n)})
}

// ListIgnored lists ignored pairs, most recent first.
func (h *Handlers) ListIgnored(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 1000)
	if err != nil {
		writeError(w, err, "")
		return
	}
	pairs, err := h.duplicates.ListIgnored(r.Context(), limit)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if pairs == nil {
		pairs = []database.IgnoredPair{}
	}
	respond(w, http.StatusOK, pairs)
}

// UnignorePairs removes pairs from the ignore registry.
func (h *Handlers) UnignorePairs(w http.ResponseWriter, r *http.Request) {
	var req PairsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	n, err := h.duplicates.UnignorePairs(r.Context(), req.Pairs)
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Removed %d ignored pairs", n)})
}

// IgnoreCluster ignores every pair within a set of images.
func (h *Handlers) IgnoreCluster(w http.ResponseWriter, r *http.Request) {
	var req ImageIDsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	n, err := h.duplicates.IgnoreCluster(r.Context(), req.ImageIDs)
	if err != nil {
		writeError(w, err, "")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Ignored %d pairs", n),
		"count":   n,
	})
}

// MergeDelete folds duplicates into a keeper. Per-duplicate failures are
// reported in the response, not as an error status.
func (h *Handlers) MergeDelete(w http.ResponseWriter, r *http.Request) {
	var req MergeDeleteRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	if req.KeeperID <= 0 {
		writeDetail(w, http.StatusBadRequest, "keeper_id is required")
		return
	}
	if len(req.DuplicateIDs) == 0 {
		writeDetail(w, http.StatusBadRequest, "duplicate_ids must not be empty")
		return
	}

	result, err := h.duplicates.MergeDelete(r.Context(), req.KeeperID, req.DuplicateIDs)
	if err != nil {
		writeError(w, err, "Keeper image not found")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Merged %d duplicates into image %d", len(result.Deleted), req.KeeperID),
		"deleted": result.Deleted,
		"failed":  result.Failed,
	})
}
