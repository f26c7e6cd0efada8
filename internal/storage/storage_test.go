package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpdf/internal/model"
	"chatpdf/internal/vectorindex"
)

func newStore(t *testing.T) *SessionStore {
	t.Helper()
	root := t.TempDir()
	s, err := NewSessionStore(filepath.Join(root, "index"), filepath.Join(root, "uploads"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":              "report.pdf",
		"../../etc/passwd":        "passwd",
		`C:\docs\Annual Plan.PDF`: "Annual_Plan.pdf",
		"  --weird name!!.docx":   "weird_name.docx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeFilename(in), in)
	}

	greek := SafeFilename("Έκθεση.pdf")
	assert.True(t, strings.HasPrefix(greek, "file_"))
	assert.True(t, strings.HasSuffix(greek, ".pdf"))

	long := SafeFilename(strings.Repeat("a", 300) + ".pptx")
	assert.Len(t, long, maxNameLength)
	assert.True(t, strings.HasSuffix(long, ".pptx"))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("3f2a-b_9"))
	assert.ErrorIs(t, ValidateSessionID(""), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID("../x"), ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID(strings.Repeat("a", 65)), ErrInvalidSessionID)
}

func TestStageAndCommit(t *testing.T) {
	s := newStore(t)

	staged, err := s.StageUpload("s1", "notes.txt", strings.NewReader("hello world"), 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(11), staged.Size)
	assert.Len(t, staged.Checksum, 64)

	name, err := s.CommitUpload("s1", "notes.txt", staged, model.DocumentMeta{Tokens: 2, UploadedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)

	docs, err := s.Documents("s1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes.txt", docs[0].Filename)
	assert.Equal(t, "s1", docs[0].SessionID)
	assert.Equal(t, 2, docs[0].Tokens)

	// same source replaces the stored copy
	staged, err = s.StageUpload("s1", "notes.txt", strings.NewReader("second version"), 1024)
	require.NoError(t, err)
	name, err = s.CommitUpload("s1", "notes.txt", staged, model.DocumentMeta{Tokens: 3})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)
	content, err := os.ReadFile(filepath.Join(s.UploadDir("s1"), name))
	require.NoError(t, err)
	assert.Equal(t, "second version", string(content))

	// a different source that sanitises to the same name gets a suffix
	staged, err = s.StageUpload("s1", "notes!.txt", strings.NewReader("other"), 1024)
	require.NoError(t, err)
	other, err := s.CommitUpload("s1", "notes!.txt", staged, model.DocumentMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, "notes.txt", other)
	assert.True(t, strings.HasPrefix(other, "notes_"))

	removed, res := s.RemoveUpload("s1", "notes.txt")
	assert.True(t, removed)
	assert.True(t, res.OK())
	docs, err = s.Documents("s1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes!.txt", docs[0].OriginalName)
}

func TestStageUploadSizeLimit(t *testing.T) {
	s := newStore(t)
	_, err := s.StageUpload("s1", "big.pdf", bytes.NewReader(make([]byte, 101)), 100)
	assert.ErrorIs(t, err, ErrSizeLimit)

	entries, err := os.ReadDir(s.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoDirExists(t, s.UploadDir("s1"))
}

func TestDiscardStaged(t *testing.T) {
	s := newStore(t)
	staged, err := s.StageUpload("s1", "a.txt", strings.NewReader("abc"), 0)
	require.NoError(t, err)
	assert.Equal(t, s.StagingDir(), filepath.Dir(staged.Path))

	assert.True(t, s.DiscardStaged(staged).OK())
	assert.NoFileExists(t, staged.Path)
	// a second discard finds nothing and is still fine
	assert.True(t, s.DiscardStaged(staged).OK())
}

func TestRemoveIfEmpty(t *testing.T) {
	s := newStore(t)
	dir := s.UploadDir("s1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), []byte("x"), 0o644))

	assert.True(t, s.RemoveIfEmpty(dir).OK())
	assert.DirExists(t, dir)

	require.NoError(t, os.Remove(filepath.Join(dir, "keep")))
	assert.True(t, s.RemoveIfEmpty(dir).OK())
	assert.NoDirExists(t, dir)
	assert.True(t, s.RemoveIfEmpty(dir).OK())
}

func TestIndexLifecycle(t *testing.T) {
	s := newStore(t)

	idx, err := s.LoadIndex("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	require.NoError(t, idx.Add([][]float32{{1, 0}}, []model.Chunk{{Source: "a", Page: 1, Text: "t", SessionID: "s1"}}))
	require.NoError(t, s.SaveIndex("s1", idx))
	assert.True(t, vectorindex.Exists(s.IndexDir("s1")))

	res := s.DeleteIndex("s1")
	assert.True(t, res.OK())
	_, err = os.Stat(s.IndexDir("s1"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.LoadIndex("../escape")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestLocksSerializeWriters(t *testing.T) {
	s := newStore(t)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("s1")
			defer unlock()
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, newStore(t).Check())
}
