package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/logging"
)

// Store is the semantic memory of the assistant. It keeps at most
// Config.Capacity records and evicts the oldest insertion first.
type Store struct {
	embedder  Embedder
	persister Persister // nil: memory only
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records []Record // insertion order, oldest first
	nextID  int64
	dims    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.Component(l, "memory")
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store. persister may be nil.
func NewStore(embedder Embedder, persister Persister, config Config, opts ...Option) *Store {
	def := DefaultConfig()
	if config.Capacity < 1 {
		config.Capacity = def.Capacity
	}
	if config.BatchSize < 1 {
		config.BatchSize = def.BatchSize
	}
	if config.SearchLimit < 1 {
		config.SearchLimit = def.SearchLimit
	}

	s := &Store{
		embedder:  embedder,
		persister: persister,
		config:    config,
		logger:    logging.Component(logging.Discard(), "memory"),
		now:       time.Now,
		nextID:    1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the most recent window from the Persister, if any.
func (s *Store) Open(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if !s.Load(ctx) {
		return goerr.Wrap(core.ErrPersistence, "failed to load memory on open")
	}
	return nil
}

// Close persists when AutoPersist is set, empties the store and closes the
// Persister.
func (s *Store) Close(ctx context.Context) error {
	if s.persister == nil {
		s.Clear()
		return nil
	}

	var err error
	if s.config.AutoPersist && !s.Persist(ctx) {
		err = goerr.Wrap(core.ErrPersistence, "failed to persist memory on close")
	}
	s.Clear()

	if cerr := s.persister.Close(); cerr != nil && err == nil {
		err = goerr.Wrap(core.ErrPersistence, "failed to close persister", goerr.V("cause", cerr.Error()))
	}
	return err
}

// Add embeds text and stores it. The store is unchanged on error.
func (s *Store) Add(ctx context.Context, text string) (Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, goerr.Wrap(core.ErrValidation, "memory text must be a non-empty string")
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return Record{}, goerr.Wrap(err, "failed to embed memory text")
	}
	if len(embedding) == 0 {
		return Record{}, goerr.Wrap(core.ErrValidation, "embedder returned an empty vector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dims != 0 && len(embedding) != s.dims {
		return Record{}, goerr.Wrap(core.ErrValidation, "embedding dimension mismatch",
			goerr.V("want", s.dims), goerr.V("got", len(embedding)))
	}

	for len(s.records) >= s.config.Capacity {
		evicted := s.records[0]
		s.records = s.records[1:]
		s.logger.Debug("evicted oldest memory", "id", evicted.ID)
	}

	rec := Record{
		ID:        s.nextID,
		Text:      text,
		Embedding: embedding,
		CreatedAt: s.now(),
	}
	s.nextID++
	s.dims = len(embedding)
	s.records = append(s.records, rec)

	s.logger.Debug("added memory", "id", rec.ID, "size", len(s.records))
	return rec, nil
}

type scored struct {
	index int
	score float64
}

// Search returns up to k stored texts most similar to query, highest first.
// Ties are broken most-recent-first. Records whose similarity is undefined
// are skipped. k <= 0 uses Config.SearchLimit.
func (s *Store) Search(ctx context.Context, query string, k int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, goerr.Wrap(core.ErrValidation, "search query must be a non-empty string")
	}
	if k <= 0 {
		k = s.config.SearchLimit
	}

	s.mu.RLock()
	empty := len(s.records) == 0
	s.mu.RUnlock()
	if empty {
		return []string{}, nil
	}

	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed search query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]scored, 0, len(s.records))
	for i, rec := range s.records {
		sim, ok := cosineSimilarity(q, rec.Embedding)
		if !ok {
			continue
		}
		results = append(results, scored{index: i, score: sim})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].score != results[b].score {
			return results[a].score > results[b].score
		}
		return results[a].index > results[b].index
	})

	if len(results) > k {
		results = results[:k]
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = s.records[r.index].Text
	}

	s.logger.Debug("searched memory", "query", truncateLog(query, 50), "hits", len(texts))
	return texts, nil
}

// Persist rewrites durable storage from the in-memory set. Failures are
// logged and reported as false.
func (s *Store) Persist(ctx context.Context) bool {
	if s.persister == nil {
		return false
	}

	records := s.Records()
	if len(records) == 0 {
		s.logger.Debug("nothing to persist")
		return true
	}

	if err := s.persister.Save(ctx, records, s.config.BatchSize); err != nil {
		s.logger.Error("failed to persist memory",
			"error", goerr.Wrap(core.ErrPersistence, "save", goerr.V("cause", err.Error())),
			"count", len(records))
		return false
	}

	s.logger.Info("persisted memory", "count", len(records))
	return true
}

// Load replaces the in-memory set with the most recent Capacity records from
// durable storage. Failures are logged and reported as false.
func (s *Store) Load(ctx context.Context) bool {
	if s.persister == nil {
		return false
	}

	loaded, err := s.persister.Load(ctx, s.config.Capacity)
	if err != nil {
		s.logger.Error("failed to load memory",
			"error", goerr.Wrap(core.ErrPersistence, "load", goerr.V("cause", err.Error())))
		return false
	}

	// newest first from storage; keep oldest first in memory so eviction
	// order matches creation order
	records := make([]Record, 0, len(loaded))
	dims := 0
	for i := len(loaded) - 1; i >= 0; i-- {
		rec := loaded[i]
		if strings.TrimSpace(rec.Text) == "" || len(rec.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(rec.Embedding)
		}
		if len(rec.Embedding) != dims {
			s.logger.Warn("skipping stored memory with mismatched dimension", "id", rec.ID)
			continue
		}
		records = append(records, rec)
	}

	s.mu.Lock()
	s.records = records
	s.dims = dims
	s.nextID = 1
	for _, rec := range records {
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	s.mu.Unlock()

	s.logger.Info("loaded memory", "count", len(records))
	return true
}

// Clear empties the in-memory set. Durable storage is untouched until the
// next Persist.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dims = 0
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity returns the configured capacity.
func (s *Store) Capacity() int {
	return s.config.Capacity
}

// Records returns a snapshot in insertion order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// cosineSimilarity returns dot(a,b)/(|a||b|). ok is false when either vector
// has zero magnitude, the lengths differ, or the result is not finite.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	return sim, true
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
