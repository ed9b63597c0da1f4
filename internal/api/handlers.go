package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

type handlers struct {
	svc Service
}

// TaskRequest is the body of POST /v1/tasks.
type TaskRequest struct {
	Action string          `json:"action"`
	Add    model.TagGroups `json:"add,omitempty"`
	Remove model.TagGroups `json:"remove,omitempty"`
}

// TagsRequest is the body of POST /v1/tags/{facet}.
type TagsRequest struct {
	Add    model.TagGroups `json:"add,omitempty"`
	Remove model.TagGroups `json:"remove,omitempty"`
}

// NamedUserRequest is the body of PUT /v1/named-user.
type NamedUserRequest struct {
	ID string `json:"id"`
}

// AcceptedResponse is returned for submitted work.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
	Changed  bool `json:"changed,omitempty"`
}

func (h *handlers) submitTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	action, err := model.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Enqueue(r.Context(), action, req.Add, req.Remove); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (h *handlers) editTags(w http.ResponseWriter, r *http.Request) {
	facet, err := identity.ParseTagFacet(chi.URLParam(r, "facet"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.svc.EditTags(r.Context(), facet, req.Add, req.Remove); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (h *handlers) setNamedUser(w http.ResponseWriter, r *http.Request) {
	var req NamedUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	changed, err := h.svc.SetNamedUser(r.Context(), req.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true, Changed: changed})
}

func (h *handlers) clearNamedUser(w http.ResponseWriter, r *http.Request) {
	changed, err := h.svc.ClearNamedUser(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true, Changed: changed})
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// fail maps service errors to status codes.
func (h *handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("admin request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
