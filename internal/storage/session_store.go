// Package storage owns the on-disk layout of sessions: the vector index
// artifacts under the index root and the uploaded documents under the
// uploads root, one "session_<id>" directory each.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"chatpdf/internal/vectorindex"
)

var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// CleanupResult is the outcome of best-effort housekeeping. Callers log it
// and carry on; it is never returned as an error.
type CleanupResult struct {
	Target string
	Err    error
}

func (r CleanupResult) OK() bool {
	return r.Err == nil
}

func (r CleanupResult) Log(logger zerolog.Logger) {
	if r.Err != nil {
		logger.Warn().Err(r.Err).Str("target", r.Target).Msg("cleanup failed")
	}
}

type SessionStore struct {
	indexRoot  string
	uploadRoot string
	logger     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewSessionStore(indexRoot, uploadRoot string, logger zerolog.Logger) (*SessionStore, error) {
	for _, dir := range []string{indexRoot, uploadRoot, filepath.Join(uploadRoot, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s failed: %w", dir, err)
		}
	}
	return &SessionStore{
		indexRoot:  indexRoot,
		uploadRoot: uploadRoot,
		logger:     logger.With().Str("component", "storage").Logger(),
		locks:      make(map[string]*sync.RWMutex),
	}, nil
}

func (s *SessionStore) IndexDir(sessionID string) string {
	return filepath.Join(s.indexRoot, "session_"+sessionID)
}

func (s *SessionStore) UploadDir(sessionID string) string {
	return filepath.Join(s.uploadRoot, "session_"+sessionID)
}

// StagingDir holds uploads that have not been committed to a session yet.
func (s *SessionStore) StagingDir() string {
	return filepath.Join(s.uploadRoot, stagingDir)
}

func (s *SessionStore) lockFor(sessionID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Lock takes the session's writer lock around a load-mutate-save cycle.
func (s *SessionStore) Lock(sessionID string) (unlock func()) {
	l := s.lockFor(sessionID)
	l.Lock()
	return l.Unlock
}

// RLock takes the reader side; any number of queries may hold it at once.
func (s *SessionStore) RLock(sessionID string) (unlock func()) {
	l := s.lockFor(sessionID)
	l.RLock()
	return l.RUnlock
}

// LoadIndex returns the session's index, empty when none was saved yet.
func (s *SessionStore) LoadIndex(sessionID string) (*vectorindex.Index, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	idx, err := vectorindex.Load(s.IndexDir(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load index for session %s failed: %w", sessionID, err)
	}
	return idx, nil
}

func (s *SessionStore) SaveIndex(sessionID string, idx *vectorindex.Index) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := idx.Save(s.IndexDir(sessionID)); err != nil {
		return fmt.Errorf("save index for session %s failed: %w", sessionID, err)
	}
	return nil
}

// DeleteIndex removes the artifacts and then the session's index directory.
func (s *SessionStore) DeleteIndex(sessionID string) CleanupResult {
	dir := s.IndexDir(sessionID)
	if err := vectorindex.Remove(dir); err != nil {
		return CleanupResult{Target: dir, Err: err}
	}
	return removeDir(dir)
}

// RemoveIfEmpty deletes dir when it holds nothing.
func (s *SessionStore) RemoveIfEmpty(dir string) CleanupResult {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return CleanupResult{Target: dir}
	}
	if err != nil {
		return CleanupResult{Target: dir, Err: err}
	}
	if len(entries) > 0 {
		return CleanupResult{Target: dir}
	}
	return removeDir(dir)
}

// DeleteSession wipes the index and uploads of a session.
func (s *SessionStore) DeleteSession(sessionID string) []CleanupResult {
	results := []CleanupResult{s.DeleteIndex(sessionID)}
	dir := s.UploadDir(sessionID)
	results = append(results, CleanupResult{Target: dir, Err: os.RemoveAll(dir)})
	return results
}

// Check verifies both roots are writable.
func (s *SessionStore) Check() error {
	for _, dir := range []string{s.indexRoot, s.uploadRoot} {
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return fmt.Errorf("storage %s not writable: %w", dir, err)
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}
	return nil
}

func removeDir(dir string) CleanupResult {
	err := os.Remove(dir)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	return CleanupResult{Target: dir, Err: err}
}
