package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/memory"
	"github.com/becomeliminal/nim-assistant/memory/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { s.Close() })
	return s
}

func records(n int, base time.Time) []memory.Record {
	out := make([]memory.Record, n)
	for i := range out {
		out[i] = memory.Record{
			ID:        int64(i + 1),
			Text:      string(rune('a' + i)),
			Embedding: []float32{float32(i), 1, -0.5},
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return out
}

func TestSaveAndLoad_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	gt.NoError(t, s.Save(ctx, records(5, base), 2)).Required()

	loaded, err := s.Load(ctx, 3)
	gt.NoError(t, err).Required()
	gt.Array(t, loaded).Length(3).Required()

	gt.Value(t, loaded[0].Text).Equal("e")
	gt.Value(t, loaded[1].Text).Equal("d")
	gt.Value(t, loaded[2].Text).Equal("c")
	gt.Value(t, loaded[0].Embedding).Equal([]float32{4, 1, -0.5})
	gt.Bool(t, loaded[0].CreatedAt.Equal(base.Add(4*time.Millisecond))).True()

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Value(t, n).Equal(5)
}

func TestSave_ReplacesPreviousContents(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	gt.NoError(t, s.Save(ctx, records(4, base), 100)).Required()
	gt.NoError(t, s.Save(ctx, records(2, base.Add(time.Hour)), 100)).Required()

	loaded, err := s.Load(ctx, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, loaded).Length(2)
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	gt.NoError(t, s.Save(ctx, records(3, time.Now()), 100)).Required()
	gt.NoError(t, s.Truncate(ctx)).Required()

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Value(t, n).Equal(0)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	blob := sqlite.EncodeVector(v)
	gt.Value(t, len(blob)).Equal(16)

	back, err := sqlite.DecodeVector(blob)
	gt.NoError(t, err).Required()
	gt.Value(t, back).Equal(v)

	_, err = sqlite.DecodeVector([]byte{1, 2, 3})
	gt.Error(t, err)
}
