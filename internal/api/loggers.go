package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/eugenenazirov/appkit/internal/logging"
	"github.com/eugenenazirov/appkit/internal/registry"
)

// ValidationError reports an invalid field in a logger payload.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var loggerFields = []string{"name", "level", "type", "errorVerbose", "enabled"}

// reservedLoggerName is routed to the override handlers, not to a logger.
const reservedLoggerName = "override"

func (h *Handler) handleListLoggers(w http.ResponseWriter, _ *http.Request) {
	entries := h.registry.List()
	resp := loggersResponse{
		Loggers: make([]registry.Entry, 0, len(entries)),
		Count:   len(entries),
	}
	for _, e := range entries {
		resp.Loggers = append(resp.Loggers, e)
	}
	slices.SortFunc(resp.Loggers, func(a, b registry.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	if level, ok := h.hub.Override(); ok {
		resp.Override = string(level)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetLogger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entry, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found", fmt.Sprintf("logger %q is not registered", name))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleCreateLogger registers a logger. Every field is required.
func (h *Handler) handleCreateLogger(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := decodeBody(w, r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	entry, err := parseEntry(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid logger", err.Error())
		return
	}

	if err := h.registry.Create(r.Context(), entry); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleUpdateLogger applies a partial update to one logger.
func (h *Handler) handleUpdateLogger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var fields map[string]json.RawMessage
	if err := decodeBody(w, r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	if raw, ok := fields["name"]; ok {
		var bodyName string
		if err := json.Unmarshal(raw, &bodyName); err != nil || bodyName != name {
			writeError(w, http.StatusBadRequest, "Invalid logger", "name: cannot be changed")
			return
		}
		delete(fields, "name")
	}

	patch, err := parsePatch(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid logger", err.Error())
		return
	}

	entry, err := h.registry.Patch(r.Context(), name, patch)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleBatchUpdateLoggers applies partial updates to several loggers,
// continuing past individual failures.
func (h *Handler) handleBatchUpdateLoggers(w http.ResponseWriter, r *http.Request) {
	var items []map[string]json.RawMessage
	if err := decodeBody(w, r, &items); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error(), "send a JSON array of updates, each with a name")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "at least one update is required")
		return
	}

	resp := batchResponse{Results: make([]batchResult, 0, len(items))}
	for i, fields := range items {
		result := h.applyBatchItem(r, i, fields)
		if result.Success {
			resp.SuccessCount++
		} else {
			resp.FailureCount++
		}
		resp.Results = append(resp.Results, result)
	}

	status := http.StatusOK
	switch {
	case resp.SuccessCount == 0:
		status = http.StatusBadRequest
	case resp.FailureCount > 0:
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (h *Handler) applyBatchItem(r *http.Request, index int, fields map[string]json.RawMessage) batchResult {
	name, err := requiredString(fields, "name")
	if err != nil {
		return batchResult{Name: fmt.Sprintf("#%d", index), Error: err.Error()}
	}
	delete(fields, "name")

	patch, err := parsePatch(fields)
	if err != nil {
		return batchResult{Name: name, Error: err.Error()}
	}

	if _, err := h.registry.Patch(r.Context(), name, patch); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return batchResult{Name: name, Error: fmt.Sprintf("logger %q is not registered", name)}
		}
		return batchResult{Name: name, Error: err.Error()}
	}
	return batchResult{Name: name, Success: true}
}

func (h *Handler) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, h.overrideState())
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := decodeBody(w, r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	raw, err := requiredString(fields, "level")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid override", err.Error())
		return
	}
	level, err := logging.ParseLevel(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid override", invalid("level", "must be one of %s", levelNames()).Error())
		return
	}

	if err := h.hub.SetOverride(level); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.overrideState())
}

func (h *Handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	_ = r
	h.hub.ClearOverride()
	writeJSON(w, http.StatusOK, h.overrideState())
}

func (h *Handler) overrideState() overrideResponse {
	level, ok := h.hub.Override()
	return overrideResponse{Level: string(level), Active: ok}
}

// parseEntry validates a complete logger definition.
func parseEntry(fields map[string]json.RawMessage) (registry.Entry, error) {
	for _, name := range loggerFields {
		if _, ok := fields[name]; !ok {
			return registry.Entry{}, invalid(name, "is required")
		}
	}

	name, err := requiredString(fields, "name")
	if err != nil {
		return registry.Entry{}, err
	}
	if name == reservedLoggerName {
		return registry.Entry{}, invalid("name", "%q is reserved for the override endpoint", name)
	}
	rest := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k != "name" {
			rest[k] = v
		}
	}
	patch, err := parsePatch(rest)
	if err != nil {
		return registry.Entry{}, err
	}
	return patch.Apply(registry.Entry{Name: name}), nil
}

// parsePatch validates a partial logger update. Unknown fields are rejected.
func parsePatch(fields map[string]json.RawMessage) (registry.Patch, error) {
	var patch registry.Patch
	if len(fields) == 0 {
		return patch, invalid("", "at least one of level, type, errorVerbose, enabled is required")
	}

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		raw := fields[key]
		switch key {
		case "level":
			s, err := stringField(key, raw)
			if err != nil {
				return patch, err
			}
			level, err := logging.ParseLevel(s)
			if err != nil {
				return patch, invalid(key, "must be one of %s", levelNames())
			}
			v := string(level)
			patch.Level = &v
		case "type":
			s, err := stringField(key, raw)
			if err != nil {
				return patch, err
			}
			typ, err := logging.ParseType(s)
			if err != nil {
				return patch, invalid(key, "must be one of %s", typeNames())
			}
			v := string(typ)
			patch.Type = &v
		case "errorVerbose":
			b, err := boolField(key, raw)
			if err != nil {
				return patch, err
			}
			patch.ErrorVerbose = &b
		case "enabled":
			b, err := boolField(key, raw)
			if err != nil {
				return patch, err
			}
			patch.Enabled = &b
		default:
			return patch, invalid(key, "unknown field")
		}
	}
	return patch, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", invalid(key, "is required")
	}
	s, err := stringField(key, raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", invalid(key, "must not be empty")
	}
	return s, nil
}

func stringField(key string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", invalid(key, "must be a string")
	}
	return s, nil
}

func boolField(key string, raw json.RawMessage) (bool, error) {
	var b bool
	if isNull(raw) || json.Unmarshal(raw, &b) != nil {
		return false, invalid(key, "must be a boolean")
	}
	return b, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func levelNames() string {
	names := make([]string, 0, len(logging.Levels()))
	for _, l := range logging.Levels() {
		names = append(names, string(l))
	}
	return strings.Join(names, ", ")
}

func typeNames() string {
	names := make([]string, 0, len(logging.Types()))
	for _, t := range logging.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

type loggersResponse struct {
	Loggers  []registry.Entry `json:"loggers"`
	Count    int              `json:"count"`
	Override string           `json:"override,omitempty"`
}

type overrideResponse struct {
	Level  string `json:"level,omitempty"`
	Active bool   `json:"active"`
}

type batchResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type batchResponse struct {
	Results      []batchResult `json:"results"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
}
