package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Store is the job store surface the admin API drives.
type Store interface {
	core.JobStore
	InstanceID() string
	Counts(ctx context.Context) (core.Counts, error)
	UnlockTrigger(ctx context.Context, key core.Key) (bool, error)
	UnlockJob(ctx context.Context, key core.Key) (bool, error)
}

// keyParam parses a "group:name" path parameter.
func keyParam(r *http.Request, name string) (core.Key, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return core.Key{}, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
	}
	return core.ParseKey(raw)
}

func stringParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

// matcherQuery reads ?match=<operator>&group=<value>.
func matcherQuery(r *http.Request) (core.GroupMatcher, error) {
	q := r.URL.Query()
	op, ok := core.ParseMatchOperator(q.Get("match"))
	if !ok {
		return core.GroupMatcher{}, fmt.Errorf("unknown match operator %q", q.Get("match"))
	}
	group := q.Get("group")
	if q.Get("match") == "" && group != "" {
		op = core.MatchEquals
	}
	return core.GroupMatcher{Operator: op, Value: group}, nil
}

func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func keyStrings(keys []core.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
