package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"chatpdf/internal/budget"
	"chatpdf/internal/model"
	"chatpdf/internal/storage"
)

// HistoryRemover drops a session's chat history.
type HistoryRemover interface {
	Delete(ctx context.Context, sessionID string) (bool, error)
}

type SessionService struct {
	store    *storage.SessionStore
	embedder Embedder
	counter  budget.Counter
	governor *budget.Governor
	history  HistoryRemover
	logger   zerolog.Logger
}

func NewSessionService(
	store *storage.SessionStore,
	embedder Embedder,
	counter budget.Counter,
	governor *budget.Governor,
	history HistoryRemover,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:    store,
		embedder: embedder,
		counter:  counter,
		governor: governor,
		history:  history,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

type DocumentStats struct {
	Name   string `json:"name"`
	Tokens int    `json:"tokens"`
	Chunks int    `json:"chunks"`
	Pages  int    `json:"pages"`
}

type SessionStats struct {
	SessionID        string          `json:"session_id"`
	TotalTokens      int             `json:"total_tokens"`
	TotalChunks      int             `json:"total_chunks"`
	TotalDocuments   int             `json:"total_documents"`
	RemainingBudget  int             `json:"remaining_budget"`
	MaxSessionTokens int             `json:"max_session_tokens"`
	UsagePercentage  float64         `json:"usage_percentage"`
	Documents        []DocumentStats `json:"documents"`
}

// Stats summarizes what the session's index holds. A session with no index
// reports zero usage.
func (s *SessionService) Stats(sessionID string) (*SessionStats, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.store.RLock(sessionID)
	idx, err := s.store.LoadIndex(sessionID)
	unlock()
	if err != nil {
		return nil, err
	}

	maxSession := s.governor.Limits().MaxPerSession
	stats := &SessionStats{
		SessionID:        sessionID,
		MaxSessionTokens: maxSession,
		Documents:        []DocumentStats{},
	}

	byName := make(map[string]*DocumentStats)
	pages := make(map[string]map[int]struct{})
	var order []string
	for _, ch := range idx.Chunks() {
		doc, ok := byName[ch.Source]
		if !ok {
			doc = &DocumentStats{Name: ch.Source}
			byName[ch.Source] = doc
			pages[ch.Source] = make(map[int]struct{})
			order = append(order, ch.Source)
		}
		tokens := ch.Tokens
		if tokens <= 0 {
			tokens = s.counter.Count(ch.Text)
		}
		doc.Tokens += tokens
		doc.Chunks++
		pages[ch.Source][ch.Page] = struct{}{}
	}
	for _, name := range order {
		doc := byName[name]
		doc.Pages = len(pages[name])
		stats.Documents = append(stats.Documents, *doc)
		stats.TotalTokens += doc.Tokens
	}

	stats.TotalChunks = idx.Len()
	stats.TotalDocuments = len(stats.Documents)
	stats.RemainingBudget = max(0, maxSession-stats.TotalTokens)
	if maxSession > 0 {
		stats.UsagePercentage = float64(stats.TotalTokens) / float64(maxSession) * 100
	}
	return stats, nil
}

// Documents lists the sidecar records of the session's stored uploads.
func (s *SessionService) Documents(sessionID string) ([]model.DocumentMeta, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Documents(sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UploadedAt.Before(docs[j].UploadedAt) })
	return docs, nil
}

type RemoveDocumentResult struct {
	Removed         bool `json:"removed"`
	RemainingChunks int  `json:"remaining_chunks"`
}

// RemoveDocument drops one source from the session: its stored upload and
// every chunk it contributed. The remaining chunks are re-embedded into a
// fresh index.
func (s *SessionService) RemoveDocument(ctx context.Context, sessionID, filename string) (*RemoveDocumentResult, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	logger := s.logger.With().Str("session_id", sessionID).Str("source", filename).Logger()

	unlock := s.store.Lock(sessionID)
	defer unlock()

	// The stored upload goes only once the index no longer references it.
	removeUpload := func() {
		if _, cleanup := s.store.RemoveUpload(sessionID, filename); !cleanup.OK() {
			cleanup.Log(logger)
		}
		s.store.RemoveIfEmpty(s.store.UploadDir(sessionID)).Log(logger)
	}

	idx, err := s.store.LoadIndex(sessionID)
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		removeUpload()
		return &RemoveDocumentResult{}, nil
	}

	all := idx.Chunks()
	remaining := make([]model.Chunk, 0, len(all))
	for _, ch := range all {
		if ch.Source != filename {
			remaining = append(remaining, ch)
		}
	}
	if len(remaining) == len(all) {
		removeUpload()
		return &RemoveDocumentResult{RemainingChunks: len(remaining)}, nil
	}

	if len(remaining) == 0 {
		if cleanup := s.store.DeleteIndex(sessionID); !cleanup.OK() {
			return nil, fmt.Errorf("delete index failed: %w", cleanup.Err)
		}
		removeUpload()
		logger.Info().Msg("last document removed, index deleted")
		return &RemoveDocumentResult{Removed: true}, nil
	}

	next, err := rebuildIndex(ctx, s.embedder, s.counter, remaining, logger)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveIndex(sessionID, next); err != nil {
		return nil, err
	}
	removeUpload()
	logger.Info().Int("remaining_chunks", next.Len()).Msg("document removed, index rebuilt")
	return &RemoveDocumentResult{Removed: true, RemainingChunks: next.Len()}, nil
}

type RemoveSessionResult struct {
	RemovedChunks      int  `json:"removed_chunks"`
	ChatHistoryDeleted bool `json:"chat_history_deleted"`
}

// RemoveSession deletes the index, the stored uploads and the chat history of
// a session.
func (s *SessionService) RemoveSession(ctx context.Context, sessionID string) (*RemoveSessionResult, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("session_id", sessionID).Logger()

	result := &RemoveSessionResult{}
	func() {
		unlock := s.store.Lock(sessionID)
		defer unlock()

		if idx, err := s.store.LoadIndex(sessionID); err == nil {
			result.RemovedChunks = idx.Len()
		} else {
			logger.Warn().Err(err).Msg("read index before removal failed")
		}
		for _, r := range s.store.DeleteSession(sessionID) {
			r.Log(logger)
		}
	}()

	if s.history != nil {
		deleted, err := s.history.Delete(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		result.ChatHistoryDeleted = deleted
	}
	logger.Info().Int("removed_chunks", result.RemovedChunks).Msg("session removed")
	return result, nil
}

// DropIndex deletes only the session's index artifacts and reports whether
// there was an index to delete.
func (s *SessionService) DropIndex(sessionID string) (bool, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return false, err
	}
	unlock := s.store.Lock(sessionID)
	defer unlock()

	idx, err := s.store.LoadIndex(sessionID)
	if err != nil {
		return false, err
	}
	if idx.Len() == 0 {
		return false, nil
	}
	res := s.store.DeleteIndex(sessionID)
	res.Log(s.logger)
	return res.OK(), nil
}

func requireSession(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrNoSession
	}
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return sessionID, nil
}
