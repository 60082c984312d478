package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/storage"
	"github.com/manga-tracker/internal/worker"
)

// parseSourceID reads the {sourceId} path variable
func parseSourceID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["sourceId"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidParameterError("sourceId", "must be a positive integer")
	}
	return id, nil
}

// handleTrigger handles POST /sync/source/{sourceId}/trigger
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseSourceID(r)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	// The body is optional; an empty one means an incremental sync
	var req worker.TriggerRequest
	if err := parseJSONBody(r, &req); err != nil && !stderrors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	logger := logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"sourceId": sourceID,
		"full":     req.Full,
	})
	logger.Info("Sync triggered")

	result, err := s.engine.Run(r.Context(), sourceID, req.Full)
	if err != nil {
		logger.WithError(err).Warn("Trigger caller went away before the sync finished")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Sync did not complete before the request ended", nil)
		return
	}

	respondJSON(w, http.StatusOK, worker.NewTriggerResponse(result))
}

// handleSyncLogs handles GET /sync/source/{sourceId}/logs?limit=
func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseSourceID(r)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	limit := storage.DefaultSyncLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > storage.MaxSyncLogLimit {
			respondCategorized(w, errors.NewInvalidParameterError("limit",
				"must be between 1 and "+strconv.Itoa(storage.MaxSyncLogLimit)))
			return
		}
		limit = n
	}

	logs, err := s.logs.ListRecentSyncLogs(r.Context(), sourceID, limit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to list sync logs")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list sync logs", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sourceId": sourceID,
		"logs":     logs,
		"count":    len(logs),
	})
}

// handleLastResult handles GET /sync/source/{sourceId}/last
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseSourceID(r)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	if s.last == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Result cache is not enabled", nil)
		return
	}

	entry, err := s.last.LastSyncLog(r.Context(), sourceID)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to read cached sync result")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read cached sync result", nil)
		return
	}
	if entry == nil {
		respondCategorized(w, errors.NewNotFoundError("sync result", strconv.FormatInt(sourceID, 10)))
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleStatus handles GET /sync/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status())
}
