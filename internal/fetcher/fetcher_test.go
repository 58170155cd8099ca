package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	rssXML := loadFixture(t, "../../testdata/sample.xml")
	atomXML := loadFixture(t, "../../testdata/atom.xml")

	tests := []struct {
		name         string
		url          string
		transport    *mockTransport
		wantTitle    string
		wantItems    int
		wantWarnings int
		wantKind     Kind
	}{
		{
			name:         "rss fetch",
			url:          "https://cloudnative.example.com/rss",
			transport:    &mockTransport{body: rssXML, statusCode: 200},
			wantTitle:    "Cloud Native Digest",
			wantItems:    4,
			wantWarnings: 1,
		},
		{
			name:      "atom fetch",
			url:       "https://sandbox.example.org/atom.xml",
			transport: &mockTransport{body: atomXML, statusCode: 200},
			wantTitle: "Sandbox Notes",
			wantItems: 2,
		},
		{
			name:      "http error status",
			url:       "https://example.com/rss",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantKind:  KindUnreachable,
		},
		{
			name:      "auth challenge",
			url:       "https://example.com/rss",
			transport: &mockTransport{body: "", statusCode: 401},
			wantKind:  KindAuthRequired,
		},
		{
			name:      "forbidden",
			url:       "https://example.com/rss",
			transport: &mockTransport{body: "", statusCode: 403},
			wantKind:  KindAuthRequired,
		},
		{
			name:      "network error",
			url:       "https://example.com/rss",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantKind:  KindUnreachable,
		},
		{
			name:      "not a feed",
			url:       "https://example.com/page",
			transport: &mockTransport{body: "<html><body>hello</body></html>", statusCode: 200},
			wantKind:  KindNotAFeed,
		},
		{
			name:      "invalid url",
			url:       "not a url",
			transport: &mockTransport{},
			wantKind:  KindUnreachable,
		},
		{
			name:      "unsupported scheme",
			url:       "ftp://example.com/rss",
			transport: &mockTransport{},
			wantKind:  KindUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			feed, err := f.Fetch(context.Background(), tt.url)

			if tt.wantKind != "" {
				var fetchErr *Error
				if !errors.As(err, &fetchErr) {
					t.Fatalf("expected *Error, got %v", err)
				}
				if diff := cmp.Diff(tt.wantKind, fetchErr.Kind); diff != "" {
					t.Errorf("kind mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantWarnings, len(feed.Warnings)); diff != "" {
				t.Errorf("warning count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchNormalizesIdentity(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")
	f := New(&mockTransport{body: xml, statusCode: 200})

	feed, err := f.Fetch(context.Background(), "https://cloudnative.example.com/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var guids []string
	for _, it := range feed.Items {
		guids = append(guids, it.GUID)
	}

	// Newest first; the entry without a guid falls back to its link;
	// the undated entry sorts last.
	want := []string{
		"item-1",
		"item-2",
		"https://cloudnative.example.com/pg-metal",
		"item-4",
	}
	if diff := cmp.Diff(want, guids); diff != "" {
		t.Errorf("guid order mismatch (-want +got):\n%s", diff)
	}

	last := feed.Items[len(feed.Items)-1]
	if last.PublishedAt != nil {
		t.Errorf("expected undated entry last, got published %v", last.PublishedAt)
	}
}

func TestFetchFeedMetadata(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")
	f := New(&mockTransport{body: xml, statusCode: 200})

	feed, err := f.Fetch(context.Background(), "https://cloudnative.example.com/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if diff := cmp.Diff("Weekly cloud native news", feed.Description); diff != "" {
		t.Errorf("description mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://cloudnative.example.com", feed.SiteLink); diff != "" {
		t.Errorf("site link mismatch (-want +got):\n%s", diff)
	}
}
