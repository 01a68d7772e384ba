// Package api exposes the local HTTP surface: pipeline runs, item queries,
// digest rendering and daemon status. The server binds to localhost and every
// endpoint except /health requires the bearer token from the config.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/digestd/internal/dedup"
	"github.com/kalambet/digestd/internal/ingest"
	"github.com/kalambet/digestd/internal/storage"
)

const (
	defaultDigestDays = 7
	defaultItemLimit  = 50
	maxItemLimit      = 500
)

// Runner triggers one ingestion batch.
type Runner interface {
	Run(ctx context.Context) ingest.BatchResult
}

// Deduplicator collapses near-duplicate items for digest views.
type Deduplicator interface {
	Deduplicate(ctx context.Context, items []dedup.Item) []dedup.Item
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store   *storage.Store
	Runner  Runner
	Dedup   Deduplicator
	Token   string
	Version string
}

// Server is the localhost API. One pipeline run at a time; concurrent POST
// /run requests get 409.
type Server struct {
	deps    Deps
	running atomic.Bool
	lastRun atomic.Pointer[ingest.BatchResult]
}

// NewHandler builds the chi router for the local API.
func NewHandler(deps Deps) http.Handler {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(deps.Token))
		r.Post("/run", s.handleRun)
		r.Get("/status", s.handleStatus)
		r.Get("/items", s.handleItems)
		r.Get("/digest", s.handleDigest)
	})

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "version": s.deps.Version})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.running.CompareAndSwap(false, true) {
		httpError(w, http.StatusConflict, "invalid_request_error", "a pipeline run is already in progress")
		return
	}
	defer s.running.Store(false)

	result := s.deps.Runner.Run(r.Context())
	s.lastRun.Store(&result)
	writeJSON(w, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.CountByStatus()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read status counts: %v", err)
		return
	}

	items, err := s.deps.Store.CountItems()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to count items: %v", err)
		return
	}

	status := map[string]any{
		"version": s.deps.Version,
		"running": s.running.Load(),
		"emails":  counts,
		"items":   items,
	}
	if last := s.lastRun.Load(); last != nil {
		status["last_run"] = last
	}
	writeJSON(w, status)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultItemLimit, maxItemLimit)

	var (
		items []storage.NewsletterItem
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		items, err = s.deps.Store.SearchItems(q, limit)
	} else {
		days := parseIntParam(r, "days", defaultDigestDays, 0)
		items, err = s.deps.Store.ItemsSince(days, limit)
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
		return
	}

	writeJSON(w, itemViews(items))
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	days := parseIntParam(r, "days", defaultDigestDays, 0)

	digest, err := BuildDigest(r.Context(), s.deps.Store, s.deps.Dedup, days)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to build digest: %v", err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, RenderMarkdown(digest))
		return
	}
	writeJSON(w, digest)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
