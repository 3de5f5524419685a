// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fetchproxy/internal/fetch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Executor runs one fetch command. *fetch.Proxy satisfies it.
type Executor interface {
	Execute(ctx context.Context, command string) fetch.ResponseEnvelope
}

// FetchRequest is the body of POST /fetch.
type FetchRequest struct {
	Command string `json:"command"`
}

// Handlers serves the proxy's HTTP routes.
type Handlers struct {
	log          *zap.Logger
	exec         Executor
	version      string
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, exec Executor, version string, maxBodyBytes int64) *Handlers {
	return &Handlers{
		log:          logger.Named("handlers"),
		exec:         exec,
		version:      version,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes mounts the unauthenticated routes. The fetch route gets the
// optional extra middleware (rate limiting).
func (h *Handlers) RegisterRoutes(r chi.Router, fetchMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Get("/version", h.HandleVersion)
	r.With(fetchMiddleware...).Post("/fetch", h.HandleFetch)
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleVersion reports the build version.
func (h *Handlers) HandleVersion(w http.ResponseWriter, _ *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// HandleFetch decodes the command and always answers 200 with an envelope;
// failures live inside the envelope, not in the status code.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		h.log.Warn("Rejected undecodable fetch request.", zap.Error(err))
		h.respondWithJSON(w, http.StatusOK, fetch.Failed(fmt.Errorf("invalid request body: %w", err)))
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.exec.Execute(r.Context(), req.Command))
}

// respondWithJSON sends v as a JSON response with the given status.
func (h *Handlers) respondWithJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
