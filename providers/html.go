package providers

import (
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"
)

// Cleaner strips markup from short HTML fragments such as search snippets.
// Results are memoized in a bounded cache.
type Cleaner struct {
	cache *ristretto.Cache
}

// NewCleaner creates a cleaner remembering at most size fragments.
func NewCleaner(size int64) (*Cleaner, error) {
	if size < 1 {
		size = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create html cleaner cache")
	}
	return &Cleaner{cache: cache}, nil
}

// Clean returns the text content of fragment with entities decoded.
func (c *Cleaner) Clean(fragment string) string {
	if c == nil || c.cache == nil {
		return stripTags(fragment)
	}
	if v, ok := c.cache.Get(fragment); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	out := stripTags(fragment)
	c.cache.Set(fragment, out, 1)
	return out
}

// Close releases the cache.
func (c *Cleaner) Close() {
	if c != nil && c.cache != nil {
		c.cache.Close()
	}
}

func stripTags(fragment string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was read
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
