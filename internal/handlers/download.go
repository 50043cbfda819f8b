package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/esprusso/photo-library/internal/export"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/streaming"

	"github.com/gorilla/mux"
)

// Download serves a finished export archive from the downloads directory.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	path, err := export.Lookup(h.downloadsDir, name)
	switch {
	case errors.Is(err, export.ErrInvalidName):
		writeDetail(w, http.StatusBadRequest, "Invalid download name")
		return
	case errors.Is(err, os.ErrNotExist):
		writeDetail(w, http.StatusNotFound, "Download not found")
		return
	case err != nil:
		writeError(w, err, "")
		return
	}

	if err := streaming.ServeAttachment(w, r, path, name, "application/zip", streaming.DefaultConfig()); err != nil {
		logging.Warn("%v", err)
	}
}
