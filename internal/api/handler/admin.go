package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mw "github.com/kiranshivaraju/sermonscribe/internal/api/middleware"
	"github.com/kiranshivaraju/sermonscribe/internal/api/response"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// StuckLister finds running jobs that started before a cutoff.
type StuckLister interface {
	ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error)
}

// KeyCreator persists new API keys.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

var validScopes = map[string]bool{
	mw.ScopeEnqueue: true,
	mw.ScopeRead:    true,
	mw.ScopeAdmin:   true,
}

// NewStuckJobsHandler returns an http.HandlerFunc for
// GET /api/v1/admin/jobs/stuck. Jobs are only reported, never changed.
func NewStuckJobsHandler(jobs StuckLister, threshold time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		olderThan := threshold
		if raw := r.URL.Query().Get("older_than"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				response.Invalid(w, "Invalid query", response.FieldErrors{
					"older_than": {"must be a positive duration such as 90m"},
				})
				return
			}
			olderThan = d
		}

		stuck, err := jobs.ListStuckJobs(r.Context(), time.Now().UTC().Add(-olderThan))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if stuck == nil {
			stuck = []*models.Job{}
		}
		response.List(w, stuck, response.ListMeta{
			Count:  len(stuck),
			Filter: map[string]string{"older_than": olderThan.String()},
		})
	}
}

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key is only ever returned in this response.
func NewCreateKeyHandler(keys KeyCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Invalid(w, "Invalid JSON body", nil)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if len(req.Scopes) == 0 {
			req.Scopes = []string{mw.ScopeEnqueue, mw.ScopeRead}
		}
		fields := response.FieldErrors{}
		if req.Name == "" {
			fields.Add("name", "is required")
		}
		for _, sc := range req.Scopes {
			if !validScopes[sc] {
				fields.Add("scopes", fmt.Sprintf("unknown scope %q; use enqueue, read or admin", sc))
			}
		}
		if len(fields) > 0 {
			response.Invalid(w, "Invalid key request", fields)
			return
		}

		raw, key, err := mw.GenerateKey(req.Name, req.Scopes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Created(w, createKeyResponse{APIKey: key, Key: raw})
	}
}
