package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/hub"
)

// handleListDevices returns all known devices, with optional query filters.
//
// Query parameters:
//   - vendor: filter by vendor (sensibo, mitv, ...)
//   - kind: filter by device kind (climate, tv, ...)
//   - available: filter by availability (true/false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.store.List()

	vendor := r.URL.Query().Get("vendor")
	kind := r.URL.Query().Get("kind")
	availableStr := r.URL.Query().Get("available")

	if vendor != "" || kind != "" || availableStr != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if vendor != "" && d.Identity.Vendor != vendor {
				continue
			}
			if kind != "" && string(d.Identity.Kind) != kind {
				continue
			}
			if availableStr != "" && d.Available != (availableStr == "true") {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device snapshot with its revision.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, revision, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, hub.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"revision":  revision,
		"snapshot":  snap,
	})
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Feature capability.Feature `json:"feature"`
	Value   any                `json:"value"`
}

// handleCommand validates and executes one canonical command.
//
// The call is synchronous: the response carries the dispatcher's ack,
// including the effective (possibly snapped) value and the resulting store
// revision. Validation failures report the reason without touching the
// vendor.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Feature == "" {
		writeBadRequest(w, "feature field is required")
		return
	}

	ack, err := s.dispatcher.Execute(r.Context(), hub.Command{
		DeviceID: id,
		Feature:  req.Feature,
		Value:    req.Value,
	})
	if err != nil {
		status, code := commandErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	s.logger.Info("device command executed",
		"device_id", id,
		"feature", ack.Feature,
		"value", ack.Value,
		"revision", ack.Revision,
		"no_op", ack.NoOp,
		"command_id", ack.CommandID,
	)

	writeJSON(w, http.StatusOK, ack)
}

// handleRefresh schedules an immediate poll of the device, ahead of its
// normal refresh interval. The poll itself is asynchronous; the resulting
// state change arrives via WebSocket.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, _, err := s.store.Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "refresh is not available")
		return
	}

	s.refresher.RefreshDevice(id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"status":    "refresh scheduled",
	})
}

// commandErrorStatus maps dispatcher errors onto HTTP status codes.
//
// ErrDeviceNotFound wraps ErrDeviceUnavailable, so the not-found check
// must run first.
func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, hub.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, hub.ErrDeviceUnavailable):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, hub.ErrInvalidValue),
		errors.Is(err, hub.ErrUnsupportedInCurrentMode):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, hub.ErrShuttingDown):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, adapter.ErrUnreachable),
		errors.Is(err, adapter.ErrRejected),
		errors.Is(err, adapter.ErrUnknownDevice):
		return http.StatusBadGateway, ErrCodeVendor
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
