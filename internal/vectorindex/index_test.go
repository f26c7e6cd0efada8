package vectorindex

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpdf/internal/model"
)

func unit(v ...float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func chunk(source string, page int, text string) model.Chunk {
	return model.Chunk{Source: source, Page: page, Text: text, SessionID: "s1", Tokens: 3}
}

func populated(t *testing.T) *Index {
	t.Helper()
	x := New(0)
	require.NoError(t, x.Add(
		[][]float32{unit(1, 0, 0), unit(0, 1, 0), unit(1, 1, 0), unit(0, 0, 1)},
		[]model.Chunk{chunk("a.pdf", 1, "x"), chunk("a.pdf", 2, "y"), chunk("b.pdf", 1, "xy"), chunk("b.pdf", 2, "z")},
	))
	return x
}

func TestSearchSelfSimilarity(t *testing.T) {
	x := populated(t)
	assert.Equal(t, 3, x.Dimension())
	assert.Equal(t, 4, x.Len())

	hits, err := x.Search(unit(0, 1, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].Chunk.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestSearchOrderAndTies(t *testing.T) {
	x := New(2)
	require.NoError(t, x.Add(
		[][]float32{unit(0, 1), unit(1, 0), unit(1, 0), unit(1, 1)},
		[]model.Chunk{chunk("a", 1, "far"), chunk("a", 2, "first"), chunk("a", 3, "second"), chunk("a", 4, "diag")},
	))

	hits, err := x.Search(unit(1, 0), 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	texts := []string{hits[0].Chunk.Text, hits[1].Chunk.Text, hits[2].Chunk.Text, hits[3].Chunk.Text}
	assert.Equal(t, []string{"first", "second", "diag", "far"}, texts)
}

func TestSearchEmptyIndex(t *testing.T) {
	hits, err := New(0).Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDimensionMismatch(t *testing.T) {
	x := populated(t)
	err := x.Add([][]float32{{1, 0}}, []model.Chunk{chunk("c", 1, "bad")})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 4, x.Len())

	_, err = x.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = x.Add([][]float32{unit(1, 0, 0)}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session_s1")
	x := populated(t)
	query := unit(1, 0.5, 0.2)

	before, err := x.Search(query, 4)
	require.NoError(t, err)
	require.NoError(t, x.Save(dir))
	assert.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Dimension())
	assert.Equal(t, x.Chunks(), loaded.Chunks())

	after, err := loaded.Search(query, 4)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Chunk, after[i].Chunk)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestLoadMissingStore(t *testing.T) {
	x, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, 0, x.Len())
	assert.Equal(t, 0, x.Dimension())
}

func TestLoadDetectsCountMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, populated(t).Save(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`[]`), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsHeaderBeyondFileSize(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"huge count", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[12:20], math.MaxUint64/2)
			return b
		}},
		{"huge dimension", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], math.MaxUint32)
			return b
		}},
		{"zero dimension", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], 0)
			return b
		}},
		{"truncated vectors", func(b []byte) []byte { return b[:len(b)-4] }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0, 0, 0, 0) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, populated(t).Save(dir))
			path := filepath.Join(dir, VectorsFile)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tc.mutate(raw), 0o644))

			_, err = Load(dir)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, populated(t).Save(dir))
	require.NoError(t, Remove(dir))
	assert.False(t, Exists(dir))
	require.NoError(t, Remove(dir))

	x, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, x.Len())
}
