package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"feedagent/internal/model"
	"feedagent/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// defaultQueryLimit caps result pages when the caller passes no limit.
const defaultQueryLimit = 20

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes all writers; the engine relies on
	// each Storage call being one atomic unit.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
// Returns ErrAlreadyExists if the URL is already subscribed, active or
// not; the uniqueness check and the insert are one atomic statement.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (url, title, description, site_link, last_fetched_at,
		                    error_count, last_error, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.URL, feed.Title, feed.Description, feed.SiteLink,
		timeToNull(feed.LastFetchedAt), feed.ErrorCount, strToNull(feed.LastError),
		boolToInt(feed.IsActive), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %s: %w", feed.URL, ErrAlreadyExists)
		}
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx, selectFeed+` WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return f, err
}

// ListFeeds returns all feeds, newest subscription first.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, selectFeed+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListActiveFeeds returns all active feeds in id order. The result is
// read directly from the store so a caller always sees the latest
// committed state.
func (s *SQLite) ListActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, selectFeed+` WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// FindFeeds resolves an identifier to matching feeds by exact URL or
// case-insensitive substring of the title.
func (s *SQLite) FindFeeds(ctx context.Context, identifier string) ([]model.Feed, error) {
	pattern := "%" + escapeLike(identifier) + "%"
	rows, err := s.db.QueryContext(ctx,
		selectFeed+` WHERE url = ? OR title LIKE ? ESCAPE '\' COLLATE NOCASE ORDER BY id`,
		identifier, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("find feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// SetFeedActive flips a feed's active flag.
func (s *SQLite) SetFeedActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET is_active = ? WHERE id = ?`, boolToInt(active), id,
	)
	if err != nil {
		return fmt.Errorf("set feed active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordFetchSuccess resets the failure counter, clears the last error
// and stamps the successful fetch time. A missing feed is a no-op: the
// feed may have been removed while its fetch was in flight.
func (s *SQLite) RecordFetchSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET error_count = 0, last_error = NULL, last_fetched_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}
	return nil
}

// RecordFetchFailure increments the failure counter and stores the
// error detail. It never changes the active flag.
func (s *SQLite) RecordFetchFailure(ctx context.Context, id int64, detail string, _ time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
		detail, id,
	)
	if err != nil {
		return fmt.Errorf("record fetch failure: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed and all of its items in one transaction.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE feed_id = ?`, id); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// InsertItems batch-inserts items for one feed inside a single
// transaction, ignoring rows whose (feed_id, guid) already exists.
// Returns the number of rows actually inserted.
func (s *SQLite) InsertItems(ctx context.Context, feedID int64, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO items (feed_id, guid, title, link, summary, published_at, is_read, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(timeLayout)
	inserted := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			feedID, it.GUID, it.Title, it.Link, it.Summary, timeToNull(it.PublishedAt), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert item %q: %w", it.GUID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit items: %w", err)
	}
	return inserted, nil
}

// QueryItems returns a page of items matching the filter plus the total
// matching count. Ordering is published time descending with undated
// items last; ties break on id descending.
func (s *SQLite) QueryItems(ctx context.Context, f ItemFilter) ([]model.Item, int, error) {
	where, args := buildItemFilter(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := `SELECT items.id, items.feed_id, items.guid, items.title, items.link,
	                 items.summary, items.published_at, items.is_read, items.fetched_at,
	                 feeds.title
	          FROM items JOIN feeds ON feeds.id = items.feed_id ` + where + `
	          ORDER BY items.published_at IS NULL, items.published_at DESC, items.id DESC
	          LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SearchItems runs a full-text match over item titles and summaries,
// ordered by FTS5 relevance rank.
func (s *SQLite) SearchItems(ctx context.Context, keyword string, limit int) ([]model.Item, int, error) {
	match := ftsQuery(keyword)
	if match == "" {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items_fts WHERE items_fts MATCH ?`, match,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT items.id, items.feed_id, items.guid, items.title, items.link,
		        items.summary, items.published_at, items.is_read, items.fetched_at,
		        feeds.title
		 FROM items_fts
		 JOIN items ON items.id = items_fts.rowid
		 JOIN feeds ON feeds.id = items.feed_id
		 WHERE items_fts MATCH ?
		 ORDER BY items_fts.rank
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SetItemsRead toggles the read flag on the given items. Returns the
// number of rows that actually changed state.
func (s *SQLite) SetItemsRead(ctx context.Context, ids []int64, read bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, boolToInt(read))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, boolToInt(read))

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_read = ? WHERE id IN (`+placeholders+`) AND is_read != ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("set items read: %w", err)
	}
	return res.RowsAffected()
}

// SetFeedItemsRead toggles the read flag on every item of one feed.
func (s *SQLite) SetFeedItemsRead(ctx context.Context, feedID int64, read bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_read = ? WHERE feed_id = ? AND is_read != ?`,
		boolToInt(read), feedID, boolToInt(read),
	)
	if err != nil {
		return 0, fmt.Errorf("set feed items read: %w", err)
	}
	return res.RowsAffected()
}

const selectFeed = `SELECT id, url, title, description, site_link, last_fetched_at,
                           error_count, last_error, is_active, created_at
                    FROM feeds`

func buildItemFilter(f ItemFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.FeedID != nil {
		conds = append(conds, "items.feed_id = ?")
		args = append(args, *f.FeedID)
	}
	if f.Since != nil {
		conds = append(conds, "items.published_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if f.Until != nil {
		conds = append(conds, "items.published_at <= ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}
	if f.UnreadOnly {
		conds = append(conds, "items.is_read = 0")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ftsQuery turns free text into an FTS5 MATCH expression: each token is
// quoted so user input cannot inject match syntax, tokens are ANDed.
func ftsQuery(keyword string) string {
	fields := strings.Fields(keyword)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func strToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var (
		f                   model.Feed
		isActive            int
		lastFetched, lastErr sql.NullString
		created             string
	)
	err := row.Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.SiteLink,
		&lastFetched, &f.ErrorCount, &lastErr, &isActive, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.IsActive = isActive == 1
	if lastFetched.Valid {
		t, _ := time.Parse(timeLayout, lastFetched.String)
		f.LastFetchedAt = &t
	}
	f.LastError = lastErr.String
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		var (
			it        model.Item
			isRead    int
			published sql.NullString
			fetched   string
		)
		err := rows.Scan(&it.ID, &it.FeedID, &it.GUID, &it.Title, &it.Link,
			&it.Summary, &published, &isRead, &fetched, &it.FeedTitle)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.IsRead = isRead == 1
		if published.Valid {
			t, _ := time.Parse(timeLayout, published.String)
			it.PublishedAt = &t
		}
		it.FetchedAt, _ = time.Parse(timeLayout, fetched)
		items = append(items, it)
	}
	return items, rows.Err()
}
