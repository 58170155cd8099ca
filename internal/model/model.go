// Package model defines the domain types used across the application.
package model

import "time"

// Feed represents a subscribed RSS/Atom source.
type Feed struct {
	ID            int64
	URL           string
	Title         string
	Description   string
	SiteLink      string
	LastFetchedAt *time.Time
	ErrorCount    int
	LastError     string
	IsActive      bool
	CreatedAt     time.Time
}

// Health classifies a feed by its consecutive-failure count.
type Health string

// Health states, ordered by severity.
const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthErroring Health = "erroring"
)

// erroringThreshold is the failure count past which a feed is
// considered erroring rather than merely degraded.
const erroringThreshold = 3

// Health returns the feed's current health classification.
func (f *Feed) Health() Health {
	switch {
	case f.ErrorCount == 0:
		return HealthHealthy
	case f.ErrorCount <= erroringThreshold:
		return HealthDegraded
	default:
		return HealthErroring
	}
}

// Item represents a single entry ingested from a feed. Items are
// immutable after insertion except for the read flag.
type Item struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	Link        string
	Summary     string
	PublishedAt *time.Time
	IsRead      bool
	FetchedAt   time.Time

	// FeedTitle is populated by queries that join the feeds table.
	// It is never written back.
	FeedTitle string
}

// CycleResult is the per-feed outcome of one ingestion cycle.
type CycleResult struct {
	FeedID    int64
	FeedTitle string
	NewItems  int
	Err       error
}
