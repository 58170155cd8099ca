// Package fetcher downloads RSS/Atom feeds and normalizes them into
// candidate entries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
)

// MaxInitialItems caps how many entries an initial subscription stores.
const MaxInitialItems = 50

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 5 * 1024 * 1024
)

// Kind classifies a fetch failure.
type Kind string

// Fetch failure kinds. These are expected, user-facing outcomes.
const (
	// KindUnreachable covers network failures, timeouts and non-2xx
	// responses other than an auth challenge.
	KindUnreachable Kind = "unreachable"
	// KindNotAFeed means the document was retrieved but is not a
	// recognized RSS/Atom feed.
	KindNotAFeed Kind = "not_a_feed"
	// KindAuthRequired means the source answered 401 or 403; the feed
	// is not public.
	KindAuthRequired Kind = "auth_required"
)

// Error is a classified fetch failure with a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Feed is a normalized feed: source metadata plus candidate entries,
// newest first. Warnings carry non-fatal parse problems such as
// skipped malformed entries.
type Feed struct {
	Title       string
	Description string
	SiteLink    string
	Items       []Item
	Warnings    []string
}

// Item is one normalized candidate entry. GUID is the feed-provided
// identifier, falling back to the entry link.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Summary     string
	PublishedAt *time.Time
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS/Atom feeds. It performs no retries;
// backoff across cycles is the scheduler's concern.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: defaultTimeout,
	}
}

// Fetch retrieves and normalizes the feed at rawURL. Failures are
// returned as *Error with a Kind the caller can act on.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Feed, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Detail: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("User-Agent", "FeedAgent/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Detail: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{
			Kind:   KindAuthRequired,
			Detail: fmt.Sprintf("feed requires authentication (HTTP %d)", resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{
			Kind:   KindUnreachable,
			Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Detail: fmt.Sprintf("read body: %v", err)}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &Error{
			Kind:   KindNotAFeed,
			Detail: "URL does not point to a valid RSS or Atom feed",
		}
	}

	return normalize(parsed), nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return &Error{Kind: KindUnreachable, Detail: "invalid URL format"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Error{Kind: KindUnreachable, Detail: "invalid URL format: only http and https are supported"}
	}
	return nil
}

// normalize converts a parsed gofeed document into the candidate entry
// sequence, skipping entries with no usable identity and collecting a
// warning for each skip.
func normalize(parsed *gofeed.Feed) *Feed {
	out := &Feed{
		Title:       parsed.Title,
		Description: parsed.Description,
		SiteLink:    parsed.Link,
	}

	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		guid := entry.GUID
		if guid == "" {
			guid = entry.Link
		}
		if guid == "" {
			title := entry.Title
			if title == "" {
				title = "unknown"
			}
			out.Warnings = append(out.Warnings, fmt.Sprintf("skipping entry with no identifier: %s", title))
			continue
		}

		title := entry.Title
		if title == "" {
			title = "Untitled"
		}

		out.Items = append(out.Items, Item{
			GUID:        guid,
			Title:       title,
			Link:        entry.Link,
			Summary:     entrySummary(entry),
			PublishedAt: entryPublished(entry),
		})
	}

	// Newest first; undated entries sort last.
	sort.SliceStable(out.Items, func(i, j int) bool {
		a, b := out.Items[i].PublishedAt, out.Items[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	return out
}

func entrySummary(entry *gofeed.Item) string {
	if entry.Description != "" {
		return entry.Description
	}
	return entry.Content
}

func entryPublished(entry *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{entry.PublishedParsed, entry.UpdatedParsed} {
		if t != nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
