package api

import (
	"net/http"
	"net/url"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// CalendarHandler serves calendar records.
type CalendarHandler struct {
	store Store
}

func NewCalendarHandler(store Store) *CalendarHandler {
	return &CalendarHandler{store: store}
}

// List handles GET /v1/calendars.
func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.CalendarNames(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calendars": names})
}

// Create handles POST /v1/calendars[?replace=true&update_triggers=true].
func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cal core.Calendar
	if err := decodeBody(r, &cal); err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	if err := h.store.StoreCalendar(r.Context(), &cal, boolQuery(r, "replace"), boolQuery(r, "update_triggers")); err != nil {
		HandleError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/calendars/"+url.PathEscape(cal.Name))
	WriteJSON(w, http.StatusCreated, map[string]any{"calendar": &cal})
}

// Get handles GET /v1/calendars/{name}.
func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := stringParam(r, "name")
	cal, err := h.store.RetrieveCalendar(r.Context(), name)
	if err != nil {
		HandleError(w, err)
		return
	}
	if cal == nil {
		WriteError(w, http.StatusNotFound, NewNotFoundError("calendar", name))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calendar": cal})
}

// Delete handles DELETE /v1/calendars/{name}. A calendar still referenced
// by a trigger or another calendar is refused with 409.
func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := stringParam(r, "name")
	found, err := h.store.RemoveCalendar(r.Context(), name)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, NewNotFoundError("calendar", name))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
