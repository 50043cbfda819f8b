package handlers

import (
	"net/http"

	"github.com/esprusso/photo-library/internal/database"
)

const imageNotFound = "Image not found"

// ListImages lists images by id, optionally filtered by rating and
// favorite.
func (h *Handlers) ListImages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err, "")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if limit < 1 || offset < 0 {
		writeDetail(w, http.StatusBadRequest, "limit must be positive and offset non-negative")
		return
	}

	filter := database.ImageFilter{Limit: limit, Offset: offset}
	if r.URL.Query().Has("rating") {
		rating, err := queryInt(r, "rating", 0)
		if err != nil {
			writeError(w, err, "")
			return
		}
		filter.Rating = &rating
	}
	if r.URL.Query().Has("favorite") {
		fav, err := queryBool(r, "favorite")
		if err != nil {
			writeError(w, err, "")
			return
		}
		filter.Favorite = &fav
	}

	images, err := h.db.ListImages(r.Context(), filter)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if images == nil {
		images = []*database.Image{}
	}
	respond(w, http.StatusOK, images)
}

// GetImage returns one image with its tags and categories.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	img, err := h.db.GetImage(r.Context(), id)
	if err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, img)
}

// DeleteImage blacklists and deletes an image. delete_original also
// removes the source file.
func (h *Handlers) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	deleteOriginal, err := queryBool(r, "delete_original")
	if err != nil {
		writeError(w, err, "")
		return
	}

	result, err := h.duplicates.DeleteImage(r.Context(), id, deleteOriginal)
	if err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"message":            "Image deleted",
		"id":                 result.ID,
		"deleted_thumbnail":  result.DeletedThumbnail,
		"deleted_local_copy": result.DeletedLocalCopy,
		"deleted_original":   result.DeletedOriginal,
	})
}

// ToggleFavorite flips the favorite flag of an image.
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	img, err := h.db.GetImage(r.Context(), id)
	if err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	if err := h.db.SetFavorite(r.Context(), id, !img.Favorite); err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"id": id, "favorite": !img.Favorite})
}

// SetRating sets the 0-5 star rating from the rating query parameter.
func (h *Handlers) SetRating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if !r.URL.Query().Has("rating") {
		writeDetail(w, http.StatusBadRequest, "rating is required")
		return
	}
	rating, err := queryInt(r, "rating", 0)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if rating < 0 || rating > 5 {
		writeDetail(w, http.StatusBadRequest, "Rating must be between 0 and 5")
		return
	}
	if err := h.db.SetRating(r.Context(), id, rating); err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"id": id, "rating": rating})
}
