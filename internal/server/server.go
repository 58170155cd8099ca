// Package server exposes the engine's operations over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedagent/internal/engine"
	"feedagent/internal/fetcher"
	"feedagent/internal/model"
	"feedagent/internal/storage"
)

// Triggerer requests an immediate ingestion cycle.
type Triggerer interface {
	Trigger()
}

// Server is the HTTP front end. It translates requests into engine
// calls and engine errors into status codes; it holds no state of its
// own.
type Server struct {
	engine *engine.Engine
	sched  Triggerer
	log    *slog.Logger
	router chi.Router
}

// New creates a Server. sched may be nil, in which case /api/refresh
// reports the feature unavailable.
func New(eng *engine.Engine, sched Triggerer, log *slog.Logger) *Server {
	s := &Server{engine: eng, sched: sched, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/unsubscribe", s.handleUnsubscribe)
		r.Get("/sources", s.handleListSources)
		r.Get("/entries", s.handleGetEntries)
		r.Get("/search", s.handleSearch)
		r.Post("/mark-read", s.handleMarkRead)
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type sourceDTO struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteLink    string `json:"site_link,omitempty"`
	Health      string `json:"health"`
	Active      bool   `json:"active"`
	LastChecked string `json:"last_checked,omitempty"`
	ErrorCount  int    `json:"error_count"`
	LastError   string `json:"last_error,omitempty"`
}

type entryDTO struct {
	ID        int64  `json:"id"`
	FeedTitle string `json:"feed_title"`
	Title     string `json:"title"`
	Link      string `json:"link,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published_at,omitempty"`
	IsRead    bool   `json:"is_read"`
}

func toSourceDTO(f model.Feed) sourceDTO {
	d := sourceDTO{
		ID:          f.ID,
		URL:         f.URL,
		Title:       f.Title,
		Description: f.Description,
		SiteLink:    f.SiteLink,
		Health:      string(f.Health()),
		Active:      f.IsActive,
		ErrorCount:  f.ErrorCount,
		LastError:   f.LastError,
	}
	if f.LastFetchedAt != nil {
		d.LastChecked = f.LastFetchedAt.Format(time.RFC3339)
	}
	return d
}

func toEntryDTOs(items []model.Item) []entryDTO {
	out := make([]entryDTO, len(items))
	for i, it := range items {
		out[i] = entryDTO{
			ID:        it.ID,
			FeedTitle: it.FeedTitle,
			Title:     it.Title,
			Link:      it.Link,
			Summary:   it.Summary,
			IsRead:    it.IsRead,
		}
		if it.PublishedAt != nil {
			out[i].Published = it.PublishedAt.Format(time.RFC3339)
		}
	}
	return out
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	res, err := s.engine.Subscribe(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]any{
		"source":     toSourceDTO(res.Feed),
		"item_count": res.ItemCount,
	}
	if len(res.Warnings) > 0 {
		body["warnings"] = res.Warnings
	}
	s.writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identifier is required"})
		return
	}

	title, err := s.engine.Unsubscribe(r.Context(), req.Identifier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": title})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.engine.ListSources(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]sourceDTO, len(feeds))
	for i, f := range feeds {
		out[i] = toSourceDTO(f)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": out, "total": len(out)})
}

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := engine.EntryFilter{
		SourceIdentifier: q.Get("source"),
		UnreadOnly:       q.Get("unread") == "true" || q.Get("unread") == "1",
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since: " + err.Error()})
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid until: " + err.Error()})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		f.Limit, _ = strconv.Atoi(raw)
	}

	page, err := s.engine.GetEntries(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":  toEntryDTOs(page.Items),
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("q")
	if keyword == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	page, err := s.engine.Search(r.Context(), keyword, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":  toEntryDTOs(page.Items),
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryIDs []int64 `json:"entry_ids"`
		Source   string  `json:"source"`
		Read     *bool   `json:"read"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	affected, err := s.engine.SetRead(r.Context(), req.EntryIDs, req.Source, read)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"affected": affected})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	s.sched.Trigger()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// writeError maps the engine/storage/fetch error taxonomy onto HTTP
// status codes. Expected outcomes keep their detail; anything
// unclassified is a 500 with the detail logged, not leaked.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		fetchErr *fetcher.Error
		ambig    *engine.AmbiguousError
	)
	switch {
	case errors.As(err, &ambig):
		titles := make([]string, len(ambig.Matches))
		for i, f := range ambig.Matches {
			titles[i] = f.Title
		}
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "multiple sources match, be more specific",
			"matches": titles,
		})
	case errors.Is(err, storage.ErrAlreadyExists):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidRequest):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &fetchErr):
		status := http.StatusBadGateway
		if fetchErr.Kind == fetcher.KindNotAFeed || fetchErr.Kind == fetcher.KindAuthRequired {
			status = http.StatusUnprocessableEntity
		}
		s.writeJSON(w, status, map[string]string{
			"error": fetchErr.Detail,
			"kind":  string(fetchErr.Kind),
		})
	default:
		s.log.Error("internal error", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// parseTimeParam accepts RFC 3339 or a bare date.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	return nil, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
}
