package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedagent/internal/engine"
	"feedagent/internal/fetcher"
	"feedagent/internal/storage"
)

type stubFetcher struct {
	feeds map[string]*fetcher.Feed
	errs  map[string]error
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (*fetcher.Feed, error) {
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if f, ok := s.feeds[url]; ok {
		return f, nil
	}
	return nil, &fetcher.Error{Kind: fetcher.KindUnreachable, Detail: "no such host"}
}

type stubTriggerer struct {
	triggered int
}

func (s *stubTriggerer) Trigger() { s.triggered++ }

func newTestServer(t *testing.T) (*Server, *stubFetcher, *stubTriggerer) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &stubFetcher{
		feeds: map[string]*fetcher.Feed{},
		errs:  map[string]error{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store, f, log)
	trig := &stubTriggerer{}
	return New(eng, trig, log), f, trig
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func published(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	parsed = parsed.UTC()
	return &parsed
}

func subscribeFeed(t *testing.T, srv *Server, f *stubFetcher, url, title string, items ...fetcher.Item) {
	t.Helper()
	f.feeds[url] = &fetcher.Feed{Title: title, Items: items}
	rec := doJSON(t, srv, http.MethodPost, "/api/subscribe", map[string]string{"url": url})
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe %s: status %d body %s", url, rec.Code, rec.Body.String())
	}
}

func TestSubscribeEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)

	f.feeds["https://a.example.com/rss"] = &fetcher.Feed{
		Title: "Feed A",
		Items: []fetcher.Item{
			{GUID: "a1", Title: "First", PublishedAt: published(t, "2025-02-01T00:00:00Z")},
		},
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/subscribe", map[string]string{"url": "https://a.example.com/rss"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["item_count"].(float64) != 1 {
		t.Errorf("expected item_count 1, got %v", body["item_count"])
	}
	source := body["source"].(map[string]any)
	if source["title"] != "Feed A" || source["health"] != "healthy" {
		t.Errorf("unexpected source: %v", source)
	}

	// Same URL again is a conflict.
	rec = doJSON(t, srv, http.MethodPost, "/api/subscribe", map[string]string{"url": "https://a.example.com/rss"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", rec.Code)
	}

	// Missing url is a bad request.
	rec = doJSON(t, srv, http.MethodPost, "/api/subscribe", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on empty url, got %d", rec.Code)
	}
}

func TestSubscribeEndpointFetchErrors(t *testing.T) {
	srv, f, _ := newTestServer(t)

	tests := []struct {
		name       string
		err        *fetcher.Error
		wantStatus int
	}{
		{name: "not a feed", err: &fetcher.Error{Kind: fetcher.KindNotAFeed, Detail: "html page"}, wantStatus: http.StatusUnprocessableEntity},
		{name: "auth required", err: &fetcher.Error{Kind: fetcher.KindAuthRequired, Detail: "401"}, wantStatus: http.StatusUnprocessableEntity},
		{name: "unreachable", err: &fetcher.Error{Kind: fetcher.KindUnreachable, Detail: "timeout"}, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://" + tt.name + ".example.com/rss"
			f.errs[url] = tt.err
			rec := doJSON(t, srv, http.MethodPost, "/api/subscribe", map[string]string{"url": url})
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d body %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["kind"] != string(tt.err.Kind) {
				t.Errorf("expected kind %s, got %v", tt.err.Kind, body["kind"])
			}
		})
	}
}

func TestUnsubscribeEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://a.example.com/rss", "Feed A")

	rec := doJSON(t, srv, http.MethodPost, "/api/unsubscribe", map[string]string{"identifier": "Feed A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["removed"] != "Feed A" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/unsubscribe", map[string]string{"identifier": "Feed A"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after removal, got %d", rec.Code)
	}
}

func TestUnsubscribeEndpointAmbiguous(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://go.example.com/rss", "Go Weekly")
	subscribeFeed(t, srv, f, "https://rust.example.com/rss", "Rust Weekly")

	rec := doJSON(t, srv, http.MethodPost, "/api/unsubscribe", map[string]string{"identifier": "weekly"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	matches := body["matches"].([]any)
	if len(matches) != 2 {
		t.Errorf("expected 2 matches, got %v", matches)
	}
}

func TestListSourcesEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://a.example.com/rss", "Feed A")
	subscribeFeed(t, srv, f, "https://b.example.com/rss", "Feed B")

	rec := doJSON(t, srv, http.MethodGet, "/api/sources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 2 {
		t.Errorf("expected 2 sources, got %v", body["total"])
	}
}

func TestEntriesEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://a.example.com/rss", "Feed A",
		fetcher.Item{GUID: "a1", Title: "Older", PublishedAt: published(t, "2025-02-01T00:00:00Z")},
		fetcher.Item{GUID: "a2", Title: "Newer", PublishedAt: published(t, "2025-02-05T00:00:00Z")},
	)
	subscribeFeed(t, srv, f, "https://b.example.com/rss", "Feed B",
		fetcher.Item{GUID: "b1", Title: "Elsewhere", PublishedAt: published(t, "2025-02-03T00:00:00Z")},
	)

	rec := doJSON(t, srv, http.MethodGet, "/api/entries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	entries := body["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["title"] != "Newer" {
		t.Errorf("expected newest first, got %v", first["title"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/entries?source=Feed+B", nil)
	body = decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Errorf("expected 1 entry for Feed B, got %v", body["total"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/entries?since=2025-02-02", nil)
	body = decodeBody(t, rec)
	if body["total"].(float64) != 2 {
		t.Errorf("expected 2 entries since Feb 2, got %v", body["total"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/entries?since=notadate", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad since, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/entries?source=nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on unknown source, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://a.example.com/rss", "Feed A",
		fetcher.Item{GUID: "a1", Title: "Kubernetes scheduler deep dive", Summary: "pods and nodes"},
		fetcher.Item{GUID: "a2", Title: "Unrelated", Summary: "nothing here"},
	)

	rec := doJSON(t, srv, http.MethodGet, "/api/search?q=kubernetes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Errorf("expected 1 match, got %v", body["total"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on missing q, got %d", rec.Code)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	srv, f, _ := newTestServer(t)
	subscribeFeed(t, srv, f, "https://a.example.com/rss", "Feed A",
		fetcher.Item{GUID: "a1", Title: "First"},
		fetcher.Item{GUID: "a2", Title: "Second"},
	)

	rec := doJSON(t, srv, http.MethodPost, "/api/mark-read", map[string]any{"source": "Feed A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["affected"].(float64) != 2 {
		t.Errorf("expected 2 affected, got %s", rec.Body.String())
	}

	// Neither entry ids nor a source is a contract violation.
	rec = doJSON(t, srv, http.MethodPost, "/api/mark-read", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _, trig := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	if trig.triggered != 1 {
		t.Errorf("expected 1 trigger, got %d", trig.triggered)
	}
}

func TestRefreshEndpointWithoutScheduler(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store, &stubFetcher{}, log)
	srv := New(eng, nil, log)

	rec := doJSON(t, srv, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
