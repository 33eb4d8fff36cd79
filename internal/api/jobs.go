package api

import (
	"net/http"
	"net/url"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// JobHandler serves job records.
type JobHandler struct {
	store Store
}

func NewJobHandler(store Store) *JobHandler {
	return &JobHandler{store: store}
}

// List handles GET /v1/jobs?match=&group=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	m, err := matcherQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	keys, err := h.store.JobKeys(r.Context(), m)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": keyStrings(keys)})
}

// Create handles POST /v1/jobs[?replace=true].
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var job core.JobDetail
	if err := decodeBody(r, &job); err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	if job.Class == "" {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError("class is required"))
		return
	}
	if err := h.store.StoreJob(r.Context(), &job, boolQuery(r, "replace")); err != nil {
		HandleError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+url.PathEscape(job.Key.String()))
	WriteJSON(w, http.StatusCreated, map[string]any{"job": &job})
}

type batchRequest struct {
	Jobs    []core.JobWithTriggers `json:"jobs"`
	Replace bool                   `json:"replace"`
}

// CreateBatch handles POST /v1/jobs/batch.
func (h *JobHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	if len(req.Jobs) == 0 {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError("jobs must not be empty"))
		return
	}
	if err := h.store.StoreJobsAndTriggers(r.Context(), req.Jobs, req.Replace); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"stored": len(req.Jobs)})
}

// Get handles GET /v1/jobs/{key}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	job, err := h.store.RetrieveJob(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, NewNotFoundError("job", key.String()))
		return
	}
	triggers, err := h.store.TriggersForJob(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, core.JobWithTriggers{Job: job, Triggers: triggers})
}

// Delete handles DELETE /v1/jobs/{key}. The job's triggers go with it.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	found, err := h.store.RemoveJob(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, NewNotFoundError("job", key.String()))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// Pause handles POST /v1/jobs/{key}/pause.
func (h *JobHandler) Pause(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.PauseJob)
}

// Resume handles POST /v1/jobs/{key}/resume.
func (h *JobHandler) Resume(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.ResumeJob)
}

// Unlock handles POST /v1/jobs/{key}/unlock.
func (h *JobHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	applyKeyOp(w, r, h.store.UnlockJob)
}

// Groups handles GET /v1/job-groups.
func (h *JobHandler) Groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.JobGroupNames(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// PauseGroups handles POST /v1/job-groups/pause?match=&group=.
func (h *JobHandler) PauseGroups(w http.ResponseWriter, r *http.Request) {
	applyGroupOp(w, r, h.store.PauseJobs)
}

// ResumeGroups handles POST /v1/job-groups/resume?match=&group=.
func (h *JobHandler) ResumeGroups(w http.ResponseWriter, r *http.Request) {
	applyGroupOp(w, r, h.store.ResumeJobs)
}
