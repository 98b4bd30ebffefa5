package ingestion

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Thobla/TempAISpotter/internal/registry"
	"github.com/Thobla/TempAISpotter/pkg/storage/blobstore"
)

// HTTPHandler exposes REST endpoints for the video record boundary.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, maxSizeBytes, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:      service,
		logger:       logger,
		maxSizeBytes: maxSizeBytes,
		formMemBytes: formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1/videos", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleDelete)
		r.Put("/{id}", h.handleUpdateUnsupported)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.List())
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	video, err := h.service.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds max size limit")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	var explicitID int64
	if raw := r.FormValue("id"); raw != "" {
		explicitID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || explicitID <= 0 {
			writeError(w, http.StatusBadRequest, "id must be a positive integer")
			return
		}
	}

	video, err := h.service.Create(r.Context(), file, header.Size, UploadOptions{
		ID:          explicitID,
		Filename:    name,
		ContentType: contentType,
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, video)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var writeErr *blobstore.WriteError
	switch err := h.service.Delete(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	case errors.As(err, &writeErr):
		h.logger.Error("blob delete failed", zap.Int64("video_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "storage failure")
	default:
		h.logger.Error("delete failed", zap.Int64("video_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed")
	}
}

// handleUpdateUnsupported rejects updates: videos are immutable once
// ingested, except for status transitions driven by the pipeline itself.
func (h *HTTPHandler) handleUpdateUnsupported(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "videos are immutable once ingested")
}

func (h *HTTPHandler) writeCreateError(w http.ResponseWriter, err error) {
	var valErr *ValidationError
	var writeErr *blobstore.WriteError
	switch {
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Reason)
	case errors.Is(err, registry.ErrDuplicateID):
		writeError(w, http.StatusConflict, "video id already exists")
	case errors.As(err, &writeErr):
		h.logger.Error("upload storage failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
	default:
		h.logger.Error("upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
