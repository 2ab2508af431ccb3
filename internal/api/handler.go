package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/appkit/internal/logging"
	"github.com/eugenenazirov/appkit/internal/registry"
	"github.com/eugenenazirov/appkit/internal/settings"
	"github.com/eugenenazirov/appkit/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxBodyBytes = 1 << 20

// SettingsStore is the part of a settings resolver the API serves. Insert and
// Update check their key precondition and write under one lock, reporting
// violations as *settings.KeyError.
type SettingsStore interface {
	Values() map[string]any
	Insert(ctx context.Context, partial map[string]any) error
	Update(ctx context.Context, partial map[string]any) error
	Refresh(ctx context.Context) error
}

// Handler wires the settings resolver, the logger registry and the logging
// hub into HTTP handlers.
type Handler struct {
	settings SettingsStore
	registry *registry.Registry
	hub      *logging.Hub
	logger   *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger used to report storage failures.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store SettingsStore, reg *registry.Registry, hub *logging.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		settings: store,
		registry: reg,
		hub:      hub,
		logger:   zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, h.settings.Values())
}

// handleCreateConfig adds keys that do not exist yet.
func (h *Handler) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	partial, ok := decodeObject(w, r)
	if !ok {
		return
	}

	if err := h.settings.Insert(r.Context(), partial); err != nil {
		h.writeSettingsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.settings.Values())
}

// handleUpdateConfig changes keys that already exist.
func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	partial, ok := decodeObject(w, r)
	if !ok {
		return
	}

	if err := h.settings.Update(r.Context(), partial); err != nil {
		h.writeSettingsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Values())
}

// writeSettingsError reports failed key preconditions as 400 and defers
// everything else to writeStoreError.
func (h *Handler) writeSettingsError(w http.ResponseWriter, r *http.Request, err error) {
	var keyErr *settings.KeyError
	if !errors.As(err, &keyErr) {
		h.writeStoreError(w, r, err)
		return
	}
	keys := strings.Join(keyErr.Keys, ", ")
	if errors.Is(err, settings.ErrKeyExists) {
		writeError(w, http.StatusBadRequest, "Keys already exist", keys, "use PUT /api/config to update existing keys")
		return
	}
	writeError(w, http.StatusBadRequest, "Unknown keys", keys, "use POST /api/config to add new keys")
}

func (h *Handler) handleRefreshConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Refresh(r.Context()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Values())
}

// writeStoreError maps domain and storage errors to HTTP responses.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		corrupt    *storage.CorruptDataError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "Invalid request", validation.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, registry.ErrExists):
		writeError(w, http.StatusConflict, "Already exists", err.Error())
	case errors.As(err, &corrupt):
		h.logger.Error("stored data is corrupt",
			zap.String("source", corrupt.Source),
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		writeError(w, http.StatusUnprocessableEntity, "Corrupt stored data", err.Error())
	default:
		h.logger.Error("storage operation failed",
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		writeInternalError(w, err)
	}
}

// decodeObject reads a JSON object body. It writes a 400 response and returns
// false when the body is not a non-empty object.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var partial map[string]any
	if err := decodeBody(w, r, &partial); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return nil, false
	}
	if len(partial) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "body must be a JSON object with at least one key")
		return nil, false
	}
	return partial, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("unable to parse JSON payload: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON value")
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
