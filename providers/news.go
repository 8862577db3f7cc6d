package providers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/becomeliminal/nim-assistant/logging"
)

const (
	// DefaultNewsURL is the NewsAPI everything endpoint.
	DefaultNewsURL = "https://newsapi.org/v2/everything"

	NewsKeyMissing = "News API key not configured"
)

// Article is one NewsAPI result.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
}

type newsResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// News searches NewsAPI. Without an API key it reads Feeds instead.
type News struct {
	APIKey   string
	BaseURL  string
	PageSize int
	Feeds    *Feeds
	Client   *http.Client
	Logger   *slog.Logger
}

// Fetch returns matching articles as a JSON array.
func (n *News) Fetch(ctx context.Context, query string) (string, error) {
	logger := logging.Component(n.Logger, "news")

	if n.APIKey == "" {
		if n.Feeds == nil || len(n.Feeds.URLs) == 0 {
			return NewsKeyMissing, nil
		}
		logger.Debug("no news API key, reading feeds", "feeds", len(n.Feeds.URLs))
		items := filterItems(n.Feeds.Fetch(ctx), query)
		return marshal(items), nil
	}

	base := n.BaseURL
	if base == "" {
		base = DefaultNewsURL
	}
	size := n.PageSize
	if size <= 0 {
		size = 5
	}

	var resp newsResponse
	err := getJSON(ctx, newHTTPClient(n.Client), base, url.Values{
		"q":        {query},
		"apiKey":   {n.APIKey},
		"pageSize": {strconv.Itoa(size)},
	}, &resp)
	if err != nil {
		logger.Error("news request failed", "error", err, "query", query)
		return "", err
	}

	out := make([]Article, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		out = append(out, Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
		})
	}
	return marshal(out), nil
}

// filterItems keeps items whose title or text mentions any query word.
// An empty query keeps everything.
func filterItems(items []FeedItem, query string) []FeedItem {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return items
	}
	out := []FeedItem{}
	for _, it := range items {
		hay := strings.ToLower(it.Title + " " + it.Text)
		for _, w := range words {
			if strings.Contains(hay, w) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}
