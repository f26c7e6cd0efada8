package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatpdf/internal/model"
)

const defaultHistoryTitle = "New chat"

var ErrHistoryEnqueue = errors.New("history enqueue failed")

type HistoryRepository interface {
	Load(ctx context.Context, sessionID string) (*model.HistorySnapshot, error)
	List(ctx context.Context) ([]model.ChatSessionSummary, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) (*model.HistorySnapshot, bool, error)
	SetHistory(ctx context.Context, snapshot *model.HistorySnapshot) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// SnapshotPublisher hands a snapshot to the persist worker.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot model.HistorySnapshot) error
}

type HistoryService struct {
	repo      HistoryRepository
	cache     HistoryCache
	publisher SnapshotPublisher
	logger    zerolog.Logger
}

func NewHistoryService(repo HistoryRepository, cache HistoryCache, publisher SnapshotPublisher, logger zerolog.Logger) *HistoryService {
	return &HistoryService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

type SaveHistoryInput struct {
	SessionID string
	Title     string
	Timestamp time.Time
	Messages  []model.HistoryMessage
}

// Save replaces the chat history of a session. The write itself happens in
// the persist worker; until it lands the cache is marked dirty so loads go
// to the database.
func (s *HistoryService) Save(ctx context.Context, input SaveHistoryInput) (*model.HistorySnapshot, error) {
	sessionID, err := requireSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultHistoryTitle
	}
	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	messages := make([]model.HistoryMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "user"
		}
		messages = append(messages, model.HistoryMessage{Role: role, Content: m.Content})
	}
	snapshot := model.HistorySnapshot{SessionID: sessionID, Title: title, Timestamp: ts, Messages: messages}

	if s.publisher == nil {
		return nil, ErrHistoryEnqueue
	}
	if s.cache != nil {
		if err := s.cache.MarkDirty(ctx, sessionID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("mark history dirty failed")
		}
		_ = s.cache.DeleteHistory(ctx, sessionID)
	}
	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("publish history snapshot failed")
		return nil, fmt.Errorf("%w: %v", ErrHistoryEnqueue, err)
	}
	return &snapshot, nil
}

// Load returns the session's chat history, or an empty snapshot when none was
// saved.
func (s *HistoryService) Load(ctx context.Context, sessionID string) (*model.HistorySnapshot, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	snapshot, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &model.HistorySnapshot{SessionID: sessionID, Messages: []model.HistoryMessage{}}, nil
	}
	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.cache.SetHistory(ctx, snapshot)
		}
	}
	return snapshot, nil
}

func (s *HistoryService) List(ctx context.Context) ([]model.ChatSessionSummary, error) {
	return s.repo.List(ctx)
}

// Delete removes the stored history and its cached copy.
func (s *HistoryService) Delete(ctx context.Context, sessionID string) (bool, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return false, err
	}
	deleted, err := s.repo.Delete(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		_ = s.cache.DeleteHistory(ctx, sessionID)
	}
	return deleted, nil
}
