// Package memory provides a bounded, in-memory semantic store of prior
// utterances.
//
// Architecture:
//   - Store: owns at most Capacity records, evicting oldest-first (FIFO by
//     insertion order) and ranking by cosine similarity on Search.
//   - Embedder: text-to-vector conversion (mock, remote HTTP, or ONNX).
//   - Persister: durable storage the Store bulk-rewrites on Persist and reads
//     back on Load (SQLite by default).
//
// Lifecycle:
//   - Open loads the most recent window from the Persister.
//   - Close persists when AutoPersist is set, clears, then closes the
//     Persister. Nothing is flushed implicitly.
package memory
