package memory

import (
	"context"
	"time"
)

// Record is one remembered utterance.
type Record struct {
	ID        int64
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), remote (OpenAI-compatible / Ollama HTTP),
// onnx (local all-MiniLM-L6-v2, build tag onnx).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size, or 0 when the size is
	// only known after the first call.
	Dimensions() int
}

// Persister is the durable storage backend of a Store.
type Persister interface {
	// Save replaces everything in durable storage with records, writing in
	// batches of batchSize.
	Save(ctx context.Context, records []Record, batchSize int) error

	// Load returns up to limit records, newest first by CreatedAt.
	Load(ctx context.Context, limit int) ([]Record, error)

	// Close releases resources.
	Close() error
}

// Config holds Store configuration.
type Config struct {
	// Capacity caps the number of records held in memory.
	// Default: 1000.
	Capacity int

	// AutoPersist saves to the Persister on Close.
	// Default: true.
	AutoPersist bool

	// BatchSize is the number of rows per insert batch on Persist.
	// Default: 100.
	BatchSize int

	// SearchLimit is the k used when Search is called with k <= 0.
	// Default: 5.
	SearchLimit int
}

// DefaultConfig returns the defaults used by the assistant.
func DefaultConfig() Config {
	return Config{
		Capacity:    1000,
		AutoPersist: true,
		BatchSize:   100,
		SearchLimit: 5,
	}
}
