package api

import (
	"context"
	"net/http"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

type (
	keyOp   func(ctx context.Context, key core.Key) (bool, error)
	groupOp func(ctx context.Context, m core.GroupMatcher) ([]string, error)
)

// applyKeyOp runs a single-record state change and reports whether the
// record changed.
func applyKeyOp(w http.ResponseWriter, r *http.Request, op keyOp) {
	key, err := keyParam(r, "key")
	if err != nil {
		HandleError(w, err)
		return
	}
	changed, err := op(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"key": key.String(), "changed": changed})
}

// applyGroupOp runs a group state change and lists the groups it touched.
func applyGroupOp(w http.ResponseWriter, r *http.Request, op groupOp) {
	m, err := matcherQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError(err.Error()))
		return
	}
	groups, err := op(r.Context(), m)
	if err != nil {
		HandleError(w, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
