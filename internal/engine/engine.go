// Package engine implements the ingestion cycle and the operations
// exposed to front ends: subscribe, unsubscribe, list, query, search
// and read-state management.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"feedagent/internal/fetcher"
	"feedagent/internal/model"
	"feedagent/internal/storage"
)

// ErrInvalidRequest indicates a caller contract violation, e.g. a
// read-state request naming neither entries nor a source.
var ErrInvalidRequest = errors.New("invalid request")

// AmbiguousError is returned when an identifier matches more than one
// feed and no exact URL match disambiguates.
type AmbiguousError struct {
	Matches []model.Feed
}

func (e *AmbiguousError) Error() string {
	titles := make([]string, len(e.Matches))
	for i, f := range e.Matches {
		titles[i] = f.Title
	}
	return fmt.Sprintf("ambiguous identifier, matches: %s", strings.Join(titles, ", "))
}

// Fetcher retrieves and normalizes a feed. *fetcher.Fetcher satisfies
// this; tests substitute stubs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Feed, error)
}

// Engine coordinates fetching with the store. It holds no locks of its
// own: every mutation goes through one atomic Storage operation, and
// the scheduler guarantees a single cycle in flight.
type Engine struct {
	store   storage.Storage
	fetcher Fetcher
	log     *slog.Logger
}

// New creates an Engine.
func New(store storage.Storage, f Fetcher, log *slog.Logger) *Engine {
	return &Engine{store: store, fetcher: f, log: log}
}

// SubscribeResult is the outcome of a successful subscription.
type SubscribeResult struct {
	Feed      model.Feed
	ItemCount int
	Warnings  []string
}

// Subscribe fetches the feed at url, stores it and imports up to
// fetcher.MaxInitialItems of its newest entries synchronously, so the
// caller can report an immediate count.
func (e *Engine) Subscribe(ctx context.Context, url string) (*SubscribeResult, error) {
	if existing, err := e.store.FindFeeds(ctx, url); err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	} else if hasExactURL(existing, url) {
		return nil, fmt.Errorf("feed %s: %w", url, storage.ErrAlreadyExists)
	}

	parsed, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	title := parsed.Title
	if title == "" {
		title = url
	}
	feed := model.Feed{
		URL:         url,
		Title:       title,
		Description: parsed.Description,
		SiteLink:    parsed.SiteLink,
		IsActive:    true,
	}
	if err := e.store.CreateFeed(ctx, &feed); err != nil {
		return nil, err
	}

	candidates := parsed.Items
	if len(candidates) > fetcher.MaxInitialItems {
		candidates = candidates[:fetcher.MaxInitialItems]
	}
	count, err := e.store.InsertItems(ctx, feed.ID, toModelItems(candidates))
	if err != nil {
		// Roll the feed row back so a retry is not rejected as a
		// duplicate of a half-created subscription.
		if derr := e.store.DeleteFeed(context.WithoutCancel(ctx), feed.ID); derr != nil {
			e.log.Error("roll back subscription", "feed_id", feed.ID, "error", derr)
		}
		return nil, fmt.Errorf("import initial items: %w", err)
	}

	now := time.Now().UTC()
	if err := e.store.RecordFetchSuccess(ctx, feed.ID, now); err != nil {
		e.log.Error("record fetch success", "feed_id", feed.ID, "error", err)
	}
	feed.LastFetchedAt = &now

	e.log.Info("subscribed", "feed_id", feed.ID, "title", feed.Title, "items", count)
	return &SubscribeResult{Feed: feed, ItemCount: count, Warnings: parsed.Warnings}, nil
}

// Unsubscribe removes the feed matching identifier and all of its
// entries. Returns the removed feed's title.
func (e *Engine) Unsubscribe(ctx context.Context, identifier string) (string, error) {
	feed, err := e.resolveFeed(ctx, identifier)
	if err != nil {
		return "", err
	}
	if err := e.store.DeleteFeed(ctx, feed.ID); err != nil {
		return "", err
	}
	e.log.Info("unsubscribed", "feed_id", feed.ID, "title", feed.Title)
	return feed.Title, nil
}

// UnsubscribeByID removes a feed by its numeric id. Used by front ends
// that already resolved the feed, e.g. confirmation callbacks.
func (e *Engine) UnsubscribeByID(ctx context.Context, id int64) (string, error) {
	feed, err := e.store.GetFeed(ctx, id)
	if err != nil {
		return "", err
	}
	if err := e.store.DeleteFeed(ctx, feed.ID); err != nil {
		return "", err
	}
	e.log.Info("unsubscribed", "feed_id", feed.ID, "title", feed.Title)
	return feed.Title, nil
}

// ResolveSource maps a user-supplied identifier to exactly one feed,
// returning storage.ErrNotFound or an AmbiguousError otherwise.
func (e *Engine) ResolveSource(ctx context.Context, identifier string) (*model.Feed, error) {
	return e.resolveFeed(ctx, identifier)
}

// CheckSource runs the ingestion path for a single feed immediately,
// outside the scheduled cycle.
func (e *Engine) CheckSource(ctx context.Context, identifier string) (model.CycleResult, error) {
	feed, err := e.resolveFeed(ctx, identifier)
	if err != nil {
		return model.CycleResult{}, err
	}
	return e.ingestFeed(ctx, *feed), nil
}

// ListSources returns all subscribed feeds, newest first. Health is
// derived from each feed's failure counter.
func (e *Engine) ListSources(ctx context.Context) ([]model.Feed, error) {
	return e.store.ListFeeds(ctx)
}

// SetActive pauses or resumes a feed's participation in the poll
// cycle. Entries persist either way. Returns the feed's title.
func (e *Engine) SetActive(ctx context.Context, identifier string, active bool) (string, error) {
	feed, err := e.resolveFeed(ctx, identifier)
	if err != nil {
		return "", err
	}
	if err := e.store.SetFeedActive(ctx, feed.ID, active); err != nil {
		return "", err
	}
	return feed.Title, nil
}

// EntryFilter selects entries for GetEntries. All fields are optional
// and combined with AND.
type EntryFilter struct {
	SourceIdentifier string
	Since            *time.Time
	Until            *time.Time
	UnreadOnly       bool
	Limit            int
}

// EntryPage is a page of entries plus whether more matches exist
// beyond the cap.
type EntryPage struct {
	Items   []model.Item
	Total   int
	HasMore bool
}

// GetEntries returns entries ordered by published time descending,
// undated entries last.
func (e *Engine) GetEntries(ctx context.Context, f EntryFilter) (*EntryPage, error) {
	sf := storage.ItemFilter{
		Since:      f.Since,
		Until:      f.Until,
		UnreadOnly: f.UnreadOnly,
		Limit:      f.Limit,
	}
	if f.SourceIdentifier != "" {
		feed, err := e.resolveFeed(ctx, f.SourceIdentifier)
		if err != nil {
			return nil, err
		}
		sf.FeedID = &feed.ID
	}

	items, total, err := e.store.QueryItems(ctx, sf)
	if err != nil {
		return nil, err
	}
	return &EntryPage{Items: items, Total: total, HasMore: total > len(items)}, nil
}

// Search runs a keyword full-text match over entry titles and
// summaries, returning the same shape as GetEntries.
func (e *Engine) Search(ctx context.Context, keyword string, limit int) (*EntryPage, error) {
	items, total, err := e.store.SearchItems(ctx, keyword, limit)
	if err != nil {
		return nil, err
	}
	return &EntryPage{Items: items, Total: total, HasMore: total > len(items)}, nil
}

// SetRead toggles the read flag on the named entries, or on every
// entry of the feed matching identifier. Naming neither is a contract
// violation. Returns the number of entries that changed state.
func (e *Engine) SetRead(ctx context.Context, ids []int64, identifier string, read bool) (int64, error) {
	switch {
	case len(ids) > 0:
		return e.store.SetItemsRead(ctx, ids, read)
	case identifier != "":
		feed, err := e.resolveFeed(ctx, identifier)
		if err != nil {
			return 0, err
		}
		return e.store.SetFeedItemsRead(ctx, feed.ID, read)
	default:
		return 0, fmt.Errorf("no entry ids or source given: %w", ErrInvalidRequest)
	}
}

// RunCycle runs one ingestion pass over the current snapshot of active
// feeds. A failing feed is recorded and skipped; it never aborts the
// cycle for the others. The context is honored between feeds, so a
// shutdown lets the in-flight feed finish its fetch/commit unit.
func (e *Engine) RunCycle(ctx context.Context) []model.CycleResult {
	feeds, err := e.store.ListActiveFeeds(ctx)
	if err != nil {
		e.log.Error("list active feeds", "error", err)
		return nil
	}

	var results []model.CycleResult
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.ingestFeed(ctx, feed))
	}
	return results
}

// ingestFeed fetches one feed, commits novel entries in a single batch
// and updates the feed's health.
func (e *Engine) ingestFeed(ctx context.Context, feed model.Feed) model.CycleResult {
	res := model.CycleResult{FeedID: feed.ID, FeedTitle: feed.Title}

	// A shutdown mid-feed must not abort the fetch/commit unit and book
	// a spurious failure on a healthy source. The unit runs outside the
	// caller's cancellation scope, bounded by the fetcher's own timeout;
	// RunCycle honors cancellation between feeds.
	ctx = context.WithoutCancel(ctx)

	parsed, err := e.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		e.log.Warn("fetch feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
		e.recordFailure(feed.ID, err.Error())
		res.Err = err
		return res
	}
	for _, w := range parsed.Warnings {
		e.log.Warn("feed warning", "feed_id", feed.ID, "warning", w)
	}

	count, err := e.store.InsertItems(ctx, feed.ID, toModelItems(parsed.Items))
	if err != nil {
		// A failed batch commit counts against health like a fetch
		// failure; rows committed before the fault stay committed and
		// dedup absorbs them next cycle.
		e.log.Error("insert items", "feed_id", feed.ID, "error", err)
		e.recordFailure(feed.ID, fmt.Sprintf("storage failure: %v", err))
		res.Err = err
		return res
	}

	if err := e.store.RecordFetchSuccess(ctx, feed.ID, time.Now().UTC()); err != nil {
		e.log.Error("record fetch success", "feed_id", feed.ID, "error", err)
	}

	if count > 0 {
		e.log.Info("feed updated", "feed_id", feed.ID, "title", feed.Title, "new_items", count)
	}
	res.NewItems = count
	return res
}

// recordFailure updates health bookkeeping outside the caller's
// cancellation scope so a shutdown mid-cycle still lands the counter.
func (e *Engine) recordFailure(feedID int64, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.RecordFetchFailure(ctx, feedID, detail, time.Now().UTC()); err != nil {
		e.log.Error("record fetch failure", "feed_id", feedID, "error", err)
	}
}

// resolveFeed maps a user-supplied identifier to exactly one feed:
// exact URL match wins, otherwise a unique title match is required.
func (e *Engine) resolveFeed(ctx context.Context, identifier string) (*model.Feed, error) {
	matches, err := e.store.FindFeeds(ctx, identifier)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no feed matching %q: %w", identifier, storage.ErrNotFound)
	case 1:
		return &matches[0], nil
	default:
		for i := range matches {
			if matches[i].URL == identifier {
				return &matches[i], nil
			}
		}
		return nil, &AmbiguousError{Matches: matches}
	}
}

func hasExactURL(feeds []model.Feed, url string) bool {
	for _, f := range feeds {
		if f.URL == url {
			return true
		}
	}
	return false
}

func toModelItems(items []fetcher.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = model.Item{
			GUID:        it.GUID,
			Title:       it.Title,
			Link:        it.Link,
			Summary:     it.Summary,
			PublishedAt: it.PublishedAt,
		}
	}
	return out
}
