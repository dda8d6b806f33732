package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	apiContext "mailaudit/internal/api/context"
	"mailaudit/internal/engine/events"
	"mailaudit/internal/pkg/errors"
)

type EventHandler struct {
	repo *events.Repository
}

func NewEventHandler(repo *events.Repository) *EventHandler {
	return &EventHandler{repo: repo}
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := paramByName(r, "event_id")

	event, err := h.repo.GetByID(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	list, err := h.repo.List(q.Get("type"), q.Get("recipient_domain"), limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Events any `json:"events"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}{Events: list, Limit: limit, Offset: offset})
}

func (h *EventHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	h.dependents(w, r, func(eventID string) (any, error) {
		return h.repo.GetContent(eventID)
	})
}

func (h *EventHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	h.dependents(w, r, func(eventID string) (any, error) {
		return h.repo.GetFlags(eventID)
	})
}

func (h *EventHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	h.dependents(w, r, func(eventID string) (any, error) {
		return h.repo.GetTags(eventID)
	})
}

func (h *EventHandler) GetVariables(w http.ResponseWriter, r *http.Request) {
	h.dependents(w, r, func(eventID string) (any, error) {
		return h.repo.GetVariables(eventID)
	})
}

// dependents serves the satellite rows of an event. The parent event must
// exist; zero dependents is a valid, common answer and serves as an empty
// list rather than 404.
func (h *EventHandler) dependents(w http.ResponseWriter, r *http.Request, fetch func(string) (any, error)) {
	id := paramByName(r, "event_id")

	event, err := h.repo.GetByID(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	rows, err := fetch(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func paramByName(r *http.Request, name string) string {
	params, ok := r.Context().Value(apiContext.Params).(httprouter.Params)
	if !ok {
		return ""
	}
	return params.ByName(name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
