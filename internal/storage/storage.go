// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"feedagent/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness violation, e.g. creating
	// a feed whose URL is already subscribed.
	ErrAlreadyExists = errors.New("already exists")
)

// ItemFilter narrows a QueryItems call. Zero-value fields are ignored;
// all set fields are combined with AND.
type ItemFilter struct {
	FeedID     *int64
	Since      *time.Time
	Until      *time.Time
	UnreadOnly bool
	Limit      int
}

// Storage is the interface for all persistence operations. Each method
// is an atomic unit with respect to every other method.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	FindFeeds(ctx context.Context, identifier string) ([]model.Feed, error)
	SetFeedActive(ctx context.Context, id int64, active bool) error
	RecordFetchSuccess(ctx context.Context, id int64, at time.Time) error
	RecordFetchFailure(ctx context.Context, id int64, detail string, at time.Time) error
	DeleteFeed(ctx context.Context, id int64) error

	InsertItems(ctx context.Context, feedID int64, items []model.Item) (int, error)
	QueryItems(ctx context.Context, f ItemFilter) ([]model.Item, int, error)
	SearchItems(ctx context.Context, keyword string, limit int) ([]model.Item, int, error)
	SetItemsRead(ctx context.Context, ids []int64, read bool) (int64, error)
	SetFeedItemsRead(ctx context.Context, feedID int64, read bool) (int64, error)

	Close() error
}
