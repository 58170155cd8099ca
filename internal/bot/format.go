package bot

import (
	"fmt"
	"strings"

	"feedagent/internal/engine"
	"feedagent/internal/model"
)

const summaryPreviewLen = 300

// FormatSubscribed formats the result of a successful subscription.
func FormatSubscribed(res *engine.SubscribeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribed to \"%s\" — imported %d item(s).\n", res.Feed.Title, res.ItemCount)
	if res.Feed.Description != "" {
		fmt.Fprintf(&b, "%s\n", res.Feed.Description)
	}
	fmt.Fprintf(&b, "URL: %s", res.Feed.URL)
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s", w)
	}
	return b.String()
}

// FormatSourceList formats all sources with their health state.
func FormatSourceList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "You have no subscriptions yet. Use /subscribe <url> to add one."
	}

	var b strings.Builder
	b.WriteString("Your sources:\n")
	for _, f := range feeds {
		marker := ""
		if !f.IsActive {
			marker = " (paused)"
		}
		fmt.Fprintf(&b, "\n%s [%s]%s\n  %s\n", f.Title, f.Health(), marker, f.URL)
		if f.LastFetchedAt != nil {
			fmt.Fprintf(&b, "  last checked: %s\n", f.LastFetchedAt.Format("2006-01-02 15:04 UTC"))
		}
		if f.LastError != "" {
			fmt.Fprintf(&b, "  last error (%d consecutive): %s\n", f.ErrorCount, f.LastError)
		}
	}
	return b.String()
}

// FormatEntryPage formats a page of entries under a header line.
func FormatEntryPage(header string, page *engine.EntryPage) string {
	if len(page.Items) == 0 {
		return "No matching entries."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", header)
	for _, it := range page.Items {
		read := ""
		if it.IsRead {
			read = " ✓"
		}
		fmt.Fprintf(&b, "\n#%d [%s]%s %s\n", it.ID, it.FeedTitle, read, it.Title)
		if it.PublishedAt != nil {
			fmt.Fprintf(&b, "  %s\n", it.PublishedAt.Format("2006-01-02 15:04 UTC"))
		}
		if s := previewSummary(it.Summary); s != "" {
			fmt.Fprintf(&b, "  %s\n", s)
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "  %s\n", it.Link)
		}
	}
	if page.HasMore {
		fmt.Fprintf(&b, "\n…and %d more. Narrow the filter or raise -n.", page.Total-len(page.Items))
	}
	return b.String()
}

// FormatAmbiguous lists the candidate feeds of an ambiguous identifier.
func FormatAmbiguous(matches []model.Feed) string {
	var b strings.Builder
	b.WriteString("Multiple sources match, be more specific:\n")
	for _, f := range matches {
		fmt.Fprintf(&b, "  %s — %s\n", f.Title, f.URL)
	}
	return b.String()
}

func previewSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > summaryPreviewLen {
		return s[:summaryPreviewLen] + "..."
	}
	return s
}
