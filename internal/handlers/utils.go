package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// respond writes v as a JSON response with the given status code.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, v)
}

// writeDetail writes an error response of the form {"detail": message}.
func writeDetail(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"detail": message})
}

// validationError marks a request the client must fix.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// writeError maps err to a status code: not found is 404, invalid state
// and validation are 400, anything else is 500 with a generic message.
func writeError(w http.ResponseWriter, err error, notFound string) {
	var ve *validationError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeDetail(w, http.StatusNotFound, jobs.ErrNotFound.Error())
	case errors.Is(err, database.ErrNotFound):
		writeDetail(w, http.StatusNotFound, notFound)
	case errors.Is(err, jobs.ErrInvalidState):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ve):
		writeDetail(w, http.StatusBadRequest, ve.msg)
	case errors.Is(err, duplicates.ErrClusterTooLarge):
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("At most %d image_ids per cluster", duplicates.MaxClusterIDs))
	default:
		logging.Error("request failed: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("Invalid id %q", raw)
	}
	return id, nil
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("%s must be an integer", name)
	}
	return v, nil
}

// queryBool parses a boolean query parameter, returning false when absent.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid("%s must be a boolean", name)
	}
	return v, nil
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// unchanged when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	if r.Body == nil || (optional && r.ContentLength == 0) {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return invalid("Invalid request body: %v", err)
	}
	return nil
}
