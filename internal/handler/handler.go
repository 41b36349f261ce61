// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the reservation service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/campuspark/coordinator/internal/reservation"
	"github.com/campuspark/coordinator/internal/store"
	"github.com/go-chi/chi/v5"
)

// NotificationReader exposes the notification log to the API.
type NotificationReader interface {
	ByUser(ctx context.Context, userID string) ([]model.Notification, error)
}

// Handler holds all HTTP handlers for the coordinator API.
type Handler struct {
	svc   *reservation.Service
	notes NotificationReader
}

// New constructs a Handler.
func New(svc *reservation.Service, notes NotificationReader) *Handler {
	return &Handler{svc: svc, notes: notes}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeStoreError maps the store's error taxonomy onto HTTP statuses.
// Contention and policy violations are conflicts the caller must react to;
// they are never retried server-side. Anything outside the taxonomy is a
// transient failure: it surfaces as 500 without internal detail, and the
// caller is free to retry the whole call.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "slot not found or not occupied")
	case errors.Is(err, store.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot was claimed by someone else")
	case errors.Is(err, store.ErrQuotaExceeded):
		writeError(w, http.StatusConflict, "weekly reservation quota exceeded")
	case errors.Is(err, store.ErrDuplicateActiveSession):
		writeError(w, http.StatusConflict, "you already have an active session")
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, "slot is occupied by another user")
	case errors.Is(err, reservation.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("handler: store error: %v", err)
		writeError(w, http.StatusInternalServerError, "temporary failure, please retry")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Reserve handles POST /slots/{id}/reserve
// Performs a concurrency-safe claim of the specified slot.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")

	var req model.ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.svc.Reserve(r.Context(), req.UserID, slotID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Release handles POST /slots/{id}/release
// Frees a slot occupied by the requesting user.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")

	var req model.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.svc.Release(r.Context(), req.UserID, slotID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ForceRelease handles POST /slots/{id}/force-release
// Administrative release of any occupied slot. The role assertion comes
// from the upstream auth proxy; the coordinator only checks the header.
func (h *Handler) ForceRelease(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-User-Role") != "admin" {
		writeError(w, http.StatusForbidden, "administrative role required")
		return
	}
	slotID := chi.URLParam(r, "id")

	var req model.ForceReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.svc.ForceRelease(r.Context(), req.AdminID, slotID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Snapshot handles GET /slots?zone=
// Returns the full current slot set, optionally scoped to one zone.
// Clients call this on connect and after any detected feed gap.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.Snapshot(r.Context(), r.URL.Query().Get("zone"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if slots == nil {
		slots = []model.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// Zones handles GET /zones
func (h *Handler) Zones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.svc.Zones(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load zones")
		return
	}
	if zones == nil {
		zones = []model.Zone{}
	}
	writeJSON(w, http.StatusOK, zones)
}

// Quota handles GET /users/{id}/quota
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Quota(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Notifications handles GET /users/{id}/notifications
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.ByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
