package providers

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-assistant/logging"
)

// DefaultFeeds are read when no news API key is configured.
var DefaultFeeds = []string{
	"http://rss.cnn.com/rss/cnn_topstories.rss",
	"https://news.google.com/rss",
}

// itemsPerFeed caps how many items are taken from each feed.
const itemsPerFeed = 5

// FeedItem is one RSS item.
type FeedItem struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type rssDocument struct {
	Items []struct {
		Title       string `xml:"title"`
		Description string `xml:"description"`
		Link        string `xml:"link"`
	} `xml:"channel>item"`
}

// Feeds reads RSS feeds.
type Feeds struct {
	URLs    []string
	Client  *http.Client
	Cleaner *Cleaner
	Logger  *slog.Logger
}

// Fetch reads every feed concurrently and returns their items in feed order.
// Feeds that fail are logged and skipped.
func (f *Feeds) Fetch(ctx context.Context) []FeedItem {
	logger := logging.Component(f.Logger, "feeds")
	hc := newHTTPClient(f.Client)

	results := make([][]FeedItem, len(f.URLs))
	var eg errgroup.Group
	for i, feedURL := range f.URLs {
		i, feedURL := i, feedURL
		eg.Go(func() error {
			items, err := f.fetchOne(ctx, hc, feedURL)
			if err != nil {
				logger.Warn("feed fetch failed", "error", err, "url", feedURL)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = eg.Wait()

	var out []FeedItem
	for _, items := range results {
		out = append(out, items...)
	}
	return out
}

func (f *Feeds) fetchOne(ctx context.Context, hc *http.Client, feedURL string) ([]FeedItem, error) {
	body, err := get(ctx, hc, feedURL, nil)
	if err != nil {
		return nil, err
	}
	return parseFeed(body, f.Cleaner)
}

func parseFeed(data []byte, cleaner *Cleaner) ([]FeedItem, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var out []FeedItem
	for _, it := range doc.Items {
		if len(out) == itemsPerFeed {
			break
		}
		title := strings.TrimSpace(it.Title)
		text := strings.TrimSpace(it.Description)
		if title == "" && text == "" {
			continue
		}
		if cleaner != nil {
			text = cleaner.Clean(text)
		}
		out = append(out, FeedItem{Title: title, Text: text, URL: strings.TrimSpace(it.Link)})
	}
	return out, nil
}
