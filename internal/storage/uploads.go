package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"chatpdf/internal/model"
)

const (
	maxNameLength = 120
	sidecarSuffix = ".meta.json"
	stagePrefix   = ".upload_"
	stagingDir    = ".staging"
)

var (
	ErrSizeLimit = errors.New("upload exceeds size limit")

	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// SafeFilename reduces an arbitrary client file name to a portable base name.
// The extension is sanitised separately so it survives a stem made only of
// non-ASCII letters; an empty stem becomes "file_<random hex>".
func SafeFilename(name string) string {
	base := strings.ReplaceAll(name, `\`, "/")
	base = base[strings.LastIndex(base, "/")+1:]

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	ext = strings.Trim(unsafeNameChars.ReplaceAllString(ext, "_"), "._-")
	stem = strings.Trim(unsafeNameChars.ReplaceAllString(stem, "_"), "._-")
	if stem == "" {
		stem = "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if ext != "" {
		ext = "." + strings.ToLower(ext)
	}
	if len(stem)+len(ext) > maxNameLength {
		stem = stem[:max(1, maxNameLength-len(ext))]
	}
	return stem + ext
}

// StagedFile is an upload streamed to a temporary file in the staging
// directory. It becomes a stored document only through CommitUpload.
type StagedFile struct {
	OriginalName string
	Path         string
	Size         int64
	Checksum     string
}

// StageUpload streams r into a temp file, hashing it on the way. Reading more
// than maxBytes aborts with ErrSizeLimit and leaves nothing behind.
func (s *SessionStore) StageUpload(sessionID, originalName string, r io.Reader, maxBytes int64) (*StagedFile, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	f, err := os.CreateTemp(s.StagingDir(), stagePrefix+sessionID+"_*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create staged upload failed: %w", err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("init checksum failed: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	written, err := io.Copy(io.MultiWriter(f, hasher), src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write staged upload failed: %w", err)
	}
	if maxBytes > 0 && written > maxBytes {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrSizeLimit, originalName, maxBytes)
	}

	return &StagedFile{
		OriginalName: originalName,
		Path:         f.Name(),
		Size:         written,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *SessionStore) DiscardStaged(f *StagedFile) CleanupResult {
	if f == nil {
		return CleanupResult{}
	}
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	return CleanupResult{Target: f.Path, Err: err}
}

// CommitUpload moves a staged file to its stored name and writes the sidecar.
// A document with the same source replaces the previous copy; a different
// document whose name sanitises the same way gets a unique suffix. Callers
// hold the session lock.
func (s *SessionStore) CommitUpload(sessionID, source string, f *StagedFile, meta model.DocumentMeta) (string, error) {
	dir := s.UploadDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir failed: %w", err)
	}

	name, found, err := s.storedName(sessionID, source)
	if err != nil {
		return "", err
	}
	if !found {
		name = SafeFilename(source)
		if _, statErr := os.Stat(filepath.Join(dir, name)); statErr == nil {
			ext := filepath.Ext(name)
			name = strings.TrimSuffix(name, ext) + "_" + uuid.NewString()[:8] + ext
		}
	}

	if err := os.Rename(f.Path, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("store upload %s failed: %w", name, err)
	}

	meta.Filename = name
	meta.OriginalName = source
	meta.SessionID = sessionID
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sidecar failed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+sidecarSuffix), payload, 0o644); err != nil {
		return "", fmt.Errorf("write sidecar failed: %w", err)
	}
	return name, nil
}

// RemoveUpload deletes the stored copy and sidecar of source. It reports
// whether a stored copy was found.
func (s *SessionStore) RemoveUpload(sessionID, source string) (bool, CleanupResult) {
	name, found, err := s.storedName(sessionID, source)
	if err != nil {
		return false, CleanupResult{Target: source, Err: err}
	}
	if !found {
		return false, CleanupResult{Target: source}
	}
	dir := s.UploadDir(sessionID)
	var errs []error
	for _, p := range []string{filepath.Join(dir, name), filepath.Join(dir, name+sidecarSuffix)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return true, CleanupResult{Target: filepath.Join(dir, name), Err: errors.Join(errs...)}
}

// Documents lists the sidecars of a session, ordered by stored name.
func (s *SessionStore) Documents(sessionID string) ([]model.DocumentMeta, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	dir := s.UploadDir(sessionID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list uploads failed: %w", err)
	}

	var docs []model.DocumentMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sidecarSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("sidecar", e.Name()).Msg("read sidecar failed")
			continue
		}
		var meta model.DocumentMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			s.logger.Warn().Err(err).Str("sidecar", e.Name()).Msg("decode sidecar failed")
			continue
		}
		docs = append(docs, meta)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

func (s *SessionStore) storedName(sessionID, source string) (string, bool, error) {
	docs, err := s.Documents(sessionID)
	if err != nil {
		return "", false, err
	}
	for _, d := range docs {
		if d.OriginalName == source || (d.OriginalName == "" && d.Filename == source) {
			return d.Filename, true, nil
		}
	}
	return "", false, nil
}
