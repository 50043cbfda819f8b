package handlers

import (
	"net/http"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/startup"

	"github.com/gorilla/mux"
)

// Handlers serves the photo library HTTP API.
type Handlers struct {
	db           *database.Database
	runner       *jobs.Runner
	ledger       *jobs.Ledger
	duplicates   *duplicates.Service
	downloadsDir string
	started      time.Time
}

// New wires the handlers to the store, the job runner and the duplicate
// finder.
func New(db *database.Database, runner *jobs.Runner, dups *duplicates.Service, config *startup.Config) *Handlers {
	return &Handlers{
		db:           db,
		runner:       runner,
		ledger:       runner.Ledger(),
		duplicates:   dups,
		downloadsDir: config.DownloadsDir,
		started:      time.Now(),
	}
}

// Router registers every route on a new mux router.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// Duplicates
	r.HandleFunc("/images/duplicates", h.FindDuplicates).Methods(http.MethodGet)
	r.HandleFunc("/images/duplicates/ignore", h.IgnorePairs).Methods(http.MethodPost)
	r.HandleFunc("/images/duplicates/ignore", h.ListIgnored).Methods(http.MethodGet)
	r.HandleFunc("/images/duplicates/ignore", h.UnignorePairs).Methods(http.MethodDelete)
	r.HandleFunc("/images/duplicates/ignore-cluster", h.IgnoreCluster).Methods(http.MethodPost)
	r.HandleFunc("/images/duplicates/merge-delete", h.MergeDelete).Methods(http.MethodPost)
	r.HandleFunc("/images/compute-phash", h.ComputePhash).Methods(http.MethodPost)

	// Images
	r.HandleFunc("/images", h.ListImages).Methods(http.MethodGet)
	r.HandleFunc("/images/", h.ListImages).Methods(http.MethodGet)
	r.HandleFunc("/images/{id:[0-9]+}", h.GetImage).Methods(http.MethodGet)
	r.HandleFunc("/images/{id:[0-9]+}", h.DeleteImage).Methods(http.MethodDelete)
	r.HandleFunc("/images/{id:[0-9]+}/favorite", h.ToggleFavorite).Methods(http.MethodPost)
	r.HandleFunc("/images/{id:[0-9]+}/rating", h.SetRating).Methods(http.MethodPost)
	r.HandleFunc("/images/{id:[0-9]+}/tags", h.AddImageTags).Methods(http.MethodPost)
	r.HandleFunc("/images/{id:[0-9]+}/tags", h.RemoveImageTags).Methods(http.MethodDelete)

	// Jobs
	r.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/force-kill-stalled", h.ForceKillStalled).Methods(http.MethodPost)
	r.HandleFunc("/jobs/indexing", h.StartIndexing).Methods(http.MethodPost)
	r.HandleFunc("/jobs/thumbnails", h.StartThumbnails).Methods(http.MethodPost)
	r.HandleFunc("/jobs/tagging", h.StartTagging).Methods(http.MethodPost)
	r.HandleFunc("/jobs/refresh-exif", h.StartRefreshExif).Methods(http.MethodPost)
	r.HandleFunc("/jobs/cleanup-orphaned", h.StartCleanupOrphaned).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id:[0-9]+}", h.CancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id:[0-9]+}/force-kill", h.ForceKillJob).Methods(http.MethodPost)

	// Tags and categories
	r.HandleFunc("/tags", h.GetAllTags).Methods(http.MethodGet)
	r.HandleFunc("/tags/", h.GetAllTags).Methods(http.MethodGet)
	r.HandleFunc("/tags/auto-tag-all-untagged", h.AutoTagAllUntagged).Methods(http.MethodPost)
	r.HandleFunc("/tags/auto-tag-single", h.AutoTagSingle).Methods(http.MethodPost)
	r.HandleFunc("/tags/auto-tag-batch", h.AutoTagBatch).Methods(http.MethodPost)
	r.HandleFunc("/categories", h.GetAllCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories/", h.GetAllCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories/{id:[0-9]+}", h.GetCategory).Methods(http.MethodGet)
	r.HandleFunc("/categories/{id:[0-9]+}", h.UpdateCategory).Methods(http.MethodPut)
	r.HandleFunc("/categories/{id:[0-9]+}/images", h.AddCategoryImages).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id:[0-9]+}/images", h.RemoveCategoryImages).Methods(http.MethodDelete)
	r.HandleFunc("/categories/{id:[0-9]+}/export", h.ExportCategory).Methods(http.MethodPost)

	// System
	r.HandleFunc("/system/stats", h.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/system/blacklist", h.ListBlacklist).Methods(http.MethodGet)
	r.HandleFunc("/system/purge-one-star-images", h.PurgeOneStar).Methods(http.MethodPost)

	r.HandleFunc("/download/{name}", h.Download).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}
