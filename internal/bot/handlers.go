package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedagent/internal/engine"
	"feedagent/internal/fetcher"
	"feedagent/internal/model"
	"feedagent/internal/storage"
)

const defaultItemLimit = 10

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Feed Agent!

Subscribe to RSS/Atom feeds and read them here.

Quick start:
1. /subscribe <url> — subscribe to a feed
2. /items — show the latest entries
3. /search <keyword> — search stored entries

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Source management:
/subscribe <url> — subscribe to an RSS/Atom feed
/list — show all sources and their health
/unsubscribe <url or title> — remove a source and its entries
/pause <url or title> — exclude a source from polling
/resume <url or title> — include it again
/check <url or title> — fetch one source now
/refresh — run a full poll cycle now

Entries:
/items [source] [-u] [-n N] — latest entries, -u unread only
/search <keyword> — full-text search over titles and summaries
/read <ids or source> — mark entries read
/unread <ids or source> — mark entries unread`)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /subscribe <url>")
		return
	}

	res, err := b.engine.Subscribe(ctx, args)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, FormatSubscribed(res))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	feeds, err := b.engine.ListSources(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSourceList(feeds))
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /unsubscribe <url or title>")
		return
	}

	feed, err := b.resolve(ctx, chatID, args)
	if err != nil {
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Unsubscribe from \"%s\"? Its stored entries will be deleted. This cannot be undone.", feed.Title))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, unsubscribe", fmt.Sprintf("unsubscribe:%d", feed.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send unsubscribe confirmation", "error", err)
	}
}

func (b *Bot) handleItems(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseItemsArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	limit := parsed.Limit
	if limit <= 0 {
		limit = defaultItemLimit
	}
	page, err := b.engine.GetEntries(ctx, engine.EntryFilter{
		SourceIdentifier: parsed.Identifier,
		UnreadOnly:       parsed.UnreadOnly,
		Limit:            limit,
	})
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, FormatEntryPage("Latest entries", page))
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /search <keyword>")
		return
	}

	page, err := b.engine.Search(ctx, args, defaultItemLimit)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, FormatEntryPage(fmt.Sprintf("Results for %q", args), page))
}

func (b *Bot) handleSetRead(ctx context.Context, chatID int64, args string, read bool) {
	ids, identifier, err := ParseReadArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	affected, err := b.engine.SetRead(ctx, ids, identifier, read)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	state := "read"
	if !read {
		state = "unread"
	}
	b.reply(chatID, fmt.Sprintf("Marked %d entr%s as %s.", affected, plural(affected, "y", "ies"), state))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	if args == "" {
		b.reply(chatID, "Usage: /pause <url or title> (or /resume)")
		return
	}

	title, err := b.engine.SetActive(ctx, args, active)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if active {
		b.reply(chatID, fmt.Sprintf("\"%s\" resumed.", title))
	} else {
		b.reply(chatID, fmt.Sprintf("\"%s\" paused. Its entries are kept.", title))
	}
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /check <url or title>")
		return
	}

	res, err := b.engine.CheckSource(ctx, args)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if res.Err != nil {
		b.reply(chatID, fmt.Sprintf("Check of \"%s\" failed: %v", res.FeedTitle, res.Err))
		return
	}
	b.reply(chatID, fmt.Sprintf("\"%s\": %d new entr%s.", res.FeedTitle, res.NewItems, plural(int64(res.NewItems), "y", "ies")))
}

func (b *Bot) handleRefresh(chatID int64) {
	if b.sched == nil {
		b.reply(chatID, "Scheduler is not running.")
		return
	}
	b.sched.Trigger()
	b.reply(chatID, "Poll cycle scheduled.")
}

// resolve maps an identifier to one feed and reports resolution
// problems to the chat itself.
func (b *Bot) resolve(ctx context.Context, chatID int64, identifier string) (*model.Feed, error) {
	feed, err := b.engine.ResolveSource(ctx, identifier)
	if err != nil {
		b.replyError(chatID, err)
		return nil, err
	}
	return feed, nil
}

// replyError renders the expected error taxonomy as plain chat text.
func (b *Bot) replyError(chatID int64, err error) {
	var (
		fetchErr *fetcher.Error
		ambig    *engine.AmbiguousError
	)
	switch {
	case errors.As(err, &ambig):
		b.reply(chatID, FormatAmbiguous(ambig.Matches))
	case errors.Is(err, storage.ErrAlreadyExists):
		b.reply(chatID, "You are already subscribed to this feed.")
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, "No matching source found.")
	case errors.Is(err, engine.ErrInvalidRequest):
		b.reply(chatID, "Give entry ids or a source name.")
	case errors.As(err, &fetchErr):
		switch fetchErr.Kind {
		case fetcher.KindAuthRequired:
			b.reply(chatID, "That feed requires authentication and cannot be polled.")
		case fetcher.KindNotAFeed:
			b.reply(chatID, "That URL does not point to a valid RSS or Atom feed.")
		default:
			b.reply(chatID, fmt.Sprintf("Could not reach the feed: %s", fetchErr.Detail))
		}
	default:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
