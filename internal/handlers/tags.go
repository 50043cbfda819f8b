package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/tasks"
)

const categoryNotFound = "Category not found"

// GetAllTags returns all tags with image counts.
func (h *Handlers) GetAllTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.db.GetAllTags(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	if tags == nil {
		tags = []database.Tag{}
	}
	respond(w, http.StatusOK, tags)
}

// AutoTagAllUntagged starts a tagging job over every untagged image.
func (h *Handlers) AutoTagAllUntagged(w http.ResponseWriter, r *http.Request) {
	ids, err := h.db.ListImageIDs(r.Context(), database.ImageFilter{Untagged: true})
	if err != nil {
		writeError(w, err, "")
		return
	}
	if len(ids) == 0 {
		respond(w, http.StatusOK, JobStartResponse{Message: "No untagged images found"})
		return
	}

	h.submit(w, r, tasks.TypeTagging, tasks.TaggingParams{AllUntagged: true},
		fmt.Sprintf("Started AI tagging for %d untagged images", len(ids)),
		"Tagging job already running")
}

// AddImageTags attaches tags named in a JSON array body to an image,
// creating missing tags.
func (h *Handlers) AddImageTags(w http.ResponseWriter, r *http.Request) {
	id, names, ok := imageTagsRequest(w, r)
	if !ok {
		return
	}
	added, err := h.db.AddTagsToImage(r.Context(), id, names)
	if err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Added %d tags to image", added), "added": added})
}

// RemoveImageTags detaches tags named in a JSON array body from an image.
func (h *Handlers) RemoveImageTags(w http.ResponseWriter, r *http.Request) {
	id, names, ok := imageTagsRequest(w, r)
	if !ok {
		return
	}
	removed, err := h.db.RemoveTagsFromImage(r.Context(), id, names)
	if err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Removed %d tags from image", removed), "removed": removed})
}

func imageTagsRequest(w http.ResponseWriter, r *http.Request) (int64, []string, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return 0, nil, false
	}
	var names []string
	if err := decodeBody(w, r, &names, false); err != nil {
		writeError(w, err, "")
		return 0, nil, false
	}
	names = slices.DeleteFunc(names, func(n string) bool { return strings.TrimSpace(n) == "" })
	if len(names) == 0 {
		writeDetail(w, http.StatusBadRequest, "No tag names provided")
		return 0, nil, false
	}
	return id, names, true
}

// AutoTagSingleRequest names one image to tag.
type AutoTagSingleRequest struct {
	ImageID int64 `json:"image_id"`
}

// AutoTagSingle starts a tagging job for one image.
func (h *Handlers) AutoTagSingle(w http.ResponseWriter, r *http.Request) {
	var req AutoTagSingleRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	if req.ImageID <= 0 {
		writeDetail(w, http.StatusBadRequest, "image_id is required")
		return
	}
	if _, err := h.db.GetImage(r.Context(), req.ImageID); err != nil {
		writeError(w, err, imageNotFound)
		return
	}
	h.submit(w, r, tasks.TypeTagging, tasks.TaggingParams{ImageIDs: []int64{req.ImageID}},
		fmt.Sprintf("Started AI tagging for image %d", req.ImageID),
		"Tagging job already running")
}

// AutoTagBatch starts a tagging job for the listed images. Every id must
// exist.
func (h *Handlers) AutoTagBatch(w http.ResponseWriter, r *http.Request) {
	var req ImageIDsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	if len(req.ImageIDs) == 0 {
		writeDetail(w, http.StatusBadRequest, "No image IDs provided")
		return
	}
	found, err := h.db.ListImageIDs(r.Context(), database.ImageFilter{IDs: req.ImageIDs})
	if err != nil {
		writeError(w, err, "")
		return
	}
	var missing []int64
	for _, id := range req.ImageIDs {
		if !slices.Contains(found, id) && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Images not found: %v", missing))
		return
	}
	h.submit(w, r, tasks.TypeTagging, tasks.TaggingParams{ImageIDs: found},
		fmt.Sprintf("Started AI tagging for %d images", len(found)),
		"Tagging job already running")
}

// GetAllCategories returns all categories with image counts.
func (h *Handlers) GetAllCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.db.GetAllCategories(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	if cats == nil {
		cats = []database.Category{}
	}
	respond(w, http.StatusOK, cats)
}

// GetCategory returns one category.
func (h *Handlers) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	cat, err := h.db.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, err, categoryNotFound)
		return
	}
	respond(w, http.StatusOK, cat)
}

// UpdateCategoryRequest is a partial category edit. Absent fields are left
// unchanged; ClearFeaturedImage removes the cover.
type UpdateCategoryRequest struct {
	Name                  *string `json:"name"`
	Description           *string `json:"description"`
	FeaturedImageID       *int64  `json:"featured_image_id"`
	FeaturedImagePosition *string `json:"featured_image_position"`
	ClearFeaturedImage    bool    `json:"clear_featured_image"`
}

func (req UpdateCategoryRequest) touchesFeatured() bool {
	return req.FeaturedImageID != nil || req.FeaturedImagePosition != nil || req.ClearFeaturedImage
}

// CategoryResponse is a category plus a note on fields that were not
// saved.
type CategoryResponse struct {
	*database.Category
	Message string `json:"message,omitempty"`
}

// featuredNotMigrated explains a featured image edit on an old schema.
const featuredNotMigrated = "Featured image not saved: the database schema predates featured images, run 'photo-library migrate'"

// UpdateCategory edits a category's name, description and cover image. On
// a schema without featured image columns the cover fields are ignored and
// the response says so.
func (h *Handlers) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	var req UpdateCategoryRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, err, "")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeDetail(w, http.StatusBadRequest, "Category name cannot be empty")
		return
	}
	if req.ClearFeaturedImage && req.FeaturedImageID != nil {
		writeDetail(w, http.StatusBadRequest, "featured_image_id and clear_featured_image are exclusive")
		return
	}

	ctx := r.Context()
	cat, err := h.db.UpdateCategory(ctx, id, database.CategoryUpdate{Name: req.Name, Description: req.Description})
	if errors.Is(err, database.ErrNameTaken) {
		writeDetail(w, http.StatusBadRequest, "Category name already exists")
		return
	}
	if err != nil {
		writeError(w, err, categoryNotFound)
		return
	}

	resp := CategoryResponse{Category: cat}
	if req.touchesFeatured() {
		featured := cat.FeaturedImageID
		switch {
		case req.ClearFeaturedImage:
			featured = nil
		case req.FeaturedImageID != nil:
			if _, err := h.db.GetImage(ctx, *req.FeaturedImageID); err != nil {
				writeError(w, err, imageNotFound)
				return
			}
			featured = req.FeaturedImageID
		}
		position := cat.FeaturedImagePosition
		if req.FeaturedImagePosition != nil {
			position = *req.FeaturedImagePosition
		}

		err := h.db.SetFeaturedImage(ctx, id, featured, position)
		switch {
		case errors.Is(err, database.ErrSchemaNotMigrated):
			resp.Message = featuredNotMigrated
		case err != nil:
			writeError(w, err, categoryNotFound)
			return
		default:
			if resp.Category, err = h.db.GetCategory(ctx, id); err != nil {
				writeError(w, err, categoryNotFound)
				return
			}
		}
	}
	respond(w, http.StatusOK, resp)
}

// AddCategoryImages links the images in a JSON array body to a category.
// Unknown image ids are skipped.
func (h *Handlers) AddCategoryImages(w http.ResponseWriter, r *http.Request) {
	id, ids, ok := categoryImagesRequest(w, r)
	if !ok {
		return
	}
	added, err := h.db.AddImagesToCategory(r.Context(), id, ids)
	if err != nil {
		writeError(w, err, categoryNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Added %d images to category", added), "added": added})
}

// RemoveCategoryImages unlinks the images in a JSON array body from a
// category.
func (h *Handlers) RemoveCategoryImages(w http.ResponseWriter, r *http.Request) {
	id, ids, ok := categoryImagesRequest(w, r)
	if !ok {
		return
	}
	removed, err := h.db.RemoveImagesFromCategory(r.Context(), id, ids)
	if err != nil {
		writeError(w, err, categoryNotFound)
		return
	}
	respond(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Removed %d images from category", removed), "removed": removed})
}

func categoryImagesRequest(w http.ResponseWriter, r *http.Request) (int64, []int64, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return 0, nil, false
	}
	var ids []int64
	if err := decodeBody(w, r, &ids, false); err != nil {
		writeError(w, err, "")
		return 0, nil, false
	}
	if len(ids) == 0 {
		writeDetail(w, http.StatusBadRequest, "No image IDs provided")
		return 0, nil, false
	}
	return id, ids, true
}

// ExportCategory starts a zip export of a category's original files.
func (h *Handlers) ExportCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if _, err := h.db.GetCategory(r.Context(), id); err != nil {
		writeError(w, err, categoryNotFound)
		return
	}
	h.startJob(w, r, tasks.TypeCategoryZip, "Export", tasks.CategoryZipParams{CategoryID: id})
}
