package api

import (
	"net/http"
	"net/url"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// TriggerHandler serves trigger records.
type TriggerHandler struct {
	store Store
}

func NewTriggerHandler(store Store) *TriggerHandler {
	return &TriggerHandler{store: store}
}

type triggerResponse struct {
	Trigger *core.Trigger     `json:"trigger"`
	State   core.TriggerState `json:"state"`
}

// List handles GET /v1/triggers?match=&group=.
func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	m, err := matcherQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	keys, err := h.store.TriggerKeys(r.Context(), m)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"triggers": keyStrings(keys)})
}

// Create handles POST /v1/triggers[?replace=true].
func (h *TriggerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var t core.Trigger
	if err := decodeBody(r, &t); err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	if err := h.store.StoreTrigger(r.Context(), &t, boolQuery(r, "replace")); err != nil {
		HandleError(w, err)
		return
	}
	h.respond(w, r, t.Key, http.StatusCreated)
}

// Get handles GET /v1/triggers/{key}.
func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	h.respond(w, r, key, http.StatusOK)
}

func (h *TriggerHandler) respond(w http.ResponseWriter, r *http.Request, key core.Key, status int) {
	t, err := h.store.RetrieveTrigger(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	if t == nil {
		WriteError(w, http.StatusNotFound, NewNotFoundError("trigger", key.String()))
		return
	}
	if status == http.StatusCreated {
		w.Header().Set("Location", "/v1/triggers/"+url.PathEscape(key.String()))
	}
	WriteJSON(w, status, triggerResponse{Trigger: t, State: core.ParseTriggerState(string(t.State))})
}

// Replace handles PUT /v1/triggers/{key}. The body replaces the trigger
// and may carry a new key.
func (h *TriggerHandler) Replace(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	var t core.Trigger
	if err := decodeBody(r, &t); err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	if t.Key.IsZero() {
		t.Key = key
	}
	ok, err := h.store.ReplaceTrigger(r.Context(), key, &t)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, NewNotFoundError("trigger", key.String()))
		return
	}
	h.respond(w, r, t.Key, http.StatusOK)
}

// Delete handles DELETE /v1/triggers/{key}.
func (h *TriggerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	found, err := h.store.RemoveTrigger(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, NewNotFoundError("trigger", key.String()))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// Pause handles POST /v1/triggers/{key}/pause.
func (h *TriggerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.PauseTrigger)
}

// Resume handles POST /v1/triggers/{key}/resume.
func (h *TriggerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.ResumeTrigger)
}

// Unlock handles POST /v1/triggers/{key}/unlock.
func (h *TriggerHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.UnlockTrigger)
}

// Groups handles GET /v1/trigger-groups.
func (h *TriggerHandler) Groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.TriggerGroupNames(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// PausedGroups handles GET /v1/trigger-groups/paused.
func (h *TriggerHandler) PausedGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.PausedTriggerGroups(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// PauseGroups handles POST /v1/trigger-groups/pause?match=&group=.
func (h *TriggerHandler) PauseGroups(w http.ResponseWriter, r *http.Request) {
	applyGroupOp(w, r, h.store.PauseTriggers)
}

// ResumeGroups handles POST /v1/trigger-groups/resume?match=&group=.
func (h *TriggerHandler) ResumeGroups(w http.ResponseWriter, r *http.Request) {
	applyGroupOp(w, r, h.store.ResumeTriggers)
}
