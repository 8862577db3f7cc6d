package providers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/becomeliminal/nim-assistant/logging"
)

// DefaultWikiURL is the English Wikipedia action API.
const DefaultWikiURL = "https://en.wikipedia.org/w/api.php"

// Wiki searches Wikipedia.
type Wiki struct {
	BaseURL string
	Limit   int
	Cleaner *Cleaner
	Client  *http.Client
	Logger  *slog.Logger
}

// WikiResult is one search hit.
type WikiResult struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// WikiResults is the JSON document returned by Fetch.
type WikiResults struct {
	Query   string       `json:"query"`
	Results []WikiResult `json:"results"`
	Total   int          `json:"total"`
	Error   string       `json:"error,omitempty"`
}

type wikiResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

// Fetch searches for query. A failed request still yields a document, with
// no results and the error text.
func (w *Wiki) Fetch(ctx context.Context, query string) (string, error) {
	base := w.BaseURL
	if base == "" {
		base = DefaultWikiURL
	}
	limit := w.Limit
	if limit <= 0 {
		limit = 5
	}

	var resp wikiResponse
	err := getJSON(ctx, newHTTPClient(w.Client), base, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"format":   {"json"},
		"utf8":     {"1"},
		"srlimit":  {strconv.Itoa(limit)},
	}, &resp)
	if err != nil {
		logging.Component(w.Logger, "wiki").Error("wikipedia search failed", "error", err, "query", query)
		return marshal(WikiResults{Query: query, Results: []WikiResult{}, Error: err.Error()}), nil
	}

	out := WikiResults{Query: query, Results: []WikiResult{}}
	for _, hit := range resp.Query.Search {
		out.Results = append(out.Results, WikiResult{
			Title: hit.Title,
			Text:  w.Cleaner.Clean(hit.Snippet),
		})
	}
	out.Total = len(out.Results)
	return marshal(out), nil
}
